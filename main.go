package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/eddielth/telemetry-bridge/codec"
	"github.com/eddielth/telemetry-bridge/config"
	"github.com/eddielth/telemetry-bridge/control"
	"github.com/eddielth/telemetry-bridge/logger"
	"github.com/eddielth/telemetry-bridge/mqtt"
	"github.com/eddielth/telemetry-bridge/storage"
	"github.com/eddielth/telemetry-bridge/transformer"
	"github.com/eddielth/telemetry-bridge/validator"
)

func main() {
	configPath := flag.String("config", "config.yaml", "optional YAML config file")
	envPath := flag.String("env", ".env", "optional dotenv file")
	console := flag.Bool("console", false, "read control commands from stdin")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("failed to load env file: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Close()

	c, err := codec.New(cfg.Codec.Passphrase)
	if err != nil {
		log.Fatalf("failed to initialize codec: %v", err)
	}

	store := initStorage(cfg.Storage)
	defer store.Close()

	transformerManager, err := transformer.NewManager(cfg.Transformers)
	if err != nil {
		log.Fatalf("failed to initialize transformers: %v", err)
	}

	transport, err := mqtt.NewPahoTransport(cfg.MQTT)
	if err != nil {
		log.Fatalf("failed to initialize MQTT client: %v", err)
	}

	bridge, err := mqtt.NewBridge(transport, c, store, mqtt.Options{
		TopicSub:       cfg.MQTT.TopicSub,
		TopicPub:       cfg.MQTT.TopicPub,
		ConnectRetries: cfg.MQTT.ConnectRetries,
		RetryBackoff:   cfg.MQTT.RetryBackoff,
		Transformers:   transformerManager,
		Validators:     rangeValidators(cfg.Validation),
	})
	if err != nil {
		log.Fatalf("failed to initialize bridge: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the process keeps serving the control surface when the broker is unreachable
	if err := bridge.Start(ctx); err != nil {
		logger.Error("bridge is not connected, restart to retry: %v", err)
	}

	err = config.WatchConfig(*configPath, func(newCfg *config.Config) error {
		if level, err := logger.ParseLogLevel(newCfg.Logger.Level); err == nil {
			logger.SetLevel(level)
		}

		for deviceID, transformerCfg := range newCfg.Transformers {
			if err := transformerManager.ReloadTransformer(deviceID, transformerCfg); err != nil {
				logger.Error("failed to reload transformer %s: %v", deviceID, err)
			}
		}

		logger.Info("MQTT and storage changes take effect after restart")
		return nil
	})
	if err != nil {
		logger.Debug("config hot reload disabled: %v", err)
	}

	if *console {
		panel := control.NewPanel(bridge, cfg.Control)
		go func() {
			if err := control.RunConsole(ctx, panel, os.Stdin, os.Stdout); err != nil {
				logger.Error("console stopped: %v", err)
			}
		}()
	}

	logger.Info("telemetry bridge running")
	<-ctx.Done()

	bridge.Stop()
	logger.Info("service stopped")
}

func initStorage(cfg config.StorageConfig) *storage.Manager {
	manager := storage.NewManager()

	if cfg.Database.Enabled {
		db, err := storage.NewDatabaseStorage(cfg.Database.Type, cfg.Database.ConnectionString())
		if err != nil {
			logger.Error("database storage unavailable: %v", err)
		} else {
			manager.AddBackend(db)
		}
	}

	if cfg.File.Enabled {
		fs, err := storage.NewFileStorage(cfg.File.Path)
		if err != nil {
			logger.Error("file storage unavailable: %v", err)
		} else {
			manager.AddBackend(fs)
		}
	}

	if manager.Len() == 0 {
		logger.Warn("no storage backend available, telemetry will not be persisted")
	}
	return manager
}

func rangeValidators(cfg config.ValidationConfig) []validator.Validator {
	if !cfg.Enabled {
		return nil
	}
	return []validator.Validator{
		&validator.RangeValidator{Field: "Temperature", Min: cfg.TempMin, Max: cfg.TempMax},
		&validator.RangeValidator{Field: "Humidity", Min: cfg.HumMin, Max: cfg.HumMax},
	}
}
