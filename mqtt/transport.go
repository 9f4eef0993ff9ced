package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eddielth/telemetry-bridge/config"
	"github.com/eddielth/telemetry-bridge/logger"
	"github.com/google/uuid"
)

// MessageHandler is the callback function type for handling MQTT messages
type MessageHandler func(topic string, payload []byte)

// Transport is the broker connection used by the bridge. Implementations must
// deliver messages for one subscription sequentially, in broker order.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, handler MessageHandler) error
	Publish(topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// PahoTransport implements Transport with the Eclipse paho client.
type PahoTransport struct {
	client mqtt.Client
	config config.MQTTConfig

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// NewPahoTransport builds a paho client from cfg. It does not connect.
func NewPahoTransport(cfg config.MQTTConfig) (*PahoTransport, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}

	if cfg.ClientID == "" {
		cfg.ClientID = "telemetry-bridge-" + uuid.NewString()
	}

	t := &PahoTransport{
		config: cfg,
		subs:   make(map[string]MessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	// one delivery goroutine, broker order
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		t.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("trying to reconnect to MQTT broker...")
	})

	t.client = mqtt.NewClient(opts)
	return t, nil
}

// ClientID returns the id presented to the broker.
func (t *PahoTransport) ClientID() string {
	return t.config.ClientID
}

// Connect connects to the MQTT broker
func (t *PahoTransport) Connect(ctx context.Context) error {
	if err := wait(ctx, t.client.Connect(), t.config.ConnectTimeout); err != nil {
		return fmt.Errorf("connect to %s: %w", t.config.Broker, err)
	}

	logger.Info("successfully connected to MQTT broker: %s", t.config.Broker)
	return nil
}

// Subscribe subscribes to the specified topic
func (t *PahoTransport) Subscribe(topic string, handler MessageHandler) error {
	if err := t.subscribe(topic, handler); err != nil {
		return err
	}

	t.mu.Lock()
	t.subs[topic] = handler
	t.mu.Unlock()

	logger.Info("successfully subscribed to topic: %s", topic)
	return nil
}

func (t *PahoTransport) subscribe(topic string, handler MessageHandler) error {
	token := t.client.Subscribe(topic, byte(t.config.QoS), func(_ mqtt.Client, msg mqtt.Message) {
		logger.Debug("received message from topic %s", msg.Topic())
		handler(msg.Topic(), msg.Payload())
	})

	if err := wait(context.Background(), token, t.config.SubscribeTimeout); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return nil
}

// resubscribe restores subscriptions after an automatic reconnect.
func (t *PahoTransport) resubscribe() {
	t.mu.Lock()
	subs := make(map[string]MessageHandler, len(t.subs))
	for topic, h := range t.subs {
		subs[topic] = h
	}
	t.mu.Unlock()

	for topic, h := range subs {
		if err := t.subscribe(topic, h); err != nil {
			logger.Error("failed to resubscribe to %s: %v", topic, err)
			continue
		}
		logger.Info("resubscribed to topic: %s", topic)
	}
}

// Publish sends payload to topic and waits at most PublishTimeout for the
// client to hand it to the network.
func (t *PahoTransport) Publish(topic string, payload []byte) error {
	token := t.client.Publish(topic, byte(t.config.QoS), false, payload)
	if err := wait(context.Background(), token, t.config.PublishTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the connection to the broker is currently up.
func (t *PahoTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

// Disconnect disconnects from the MQTT broker
func (t *PahoTransport) Disconnect() {
	t.client.Disconnect(250)
	logger.Info("disconnected from MQTT broker")
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-expired:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
