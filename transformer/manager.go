package transformer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/eddielth/telemetry-bridge/config"
	"github.com/eddielth/telemetry-bridge/logger"
)

// Manager holds the normalization scripts, keyed by the payload's device id.
// Ids are matched case-insensitively: viper lowercases map keys on load.
type Manager struct {
	transformers map[string]*Transformer
	mutex        sync.RWMutex
}

// Transformer wraps one script runtime. A goja runtime is single threaded,
// calls are serialized by mu.
type Transformer struct {
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
	mu         sync.Mutex
}

// NewManager compiles a script for every configured device id.
func NewManager(configs map[string]config.Transformer) (*Manager, error) {
	manager := &Manager{
		transformers: make(map[string]*Transformer),
	}

	for deviceID, cfg := range configs {
		t, err := load(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create transformer for device %s: %v", deviceID, err)
		}

		manager.transformers[deviceKey(deviceID)] = t
		logger.Info("loaded transformer for device %s", deviceID)
	}

	return manager, nil
}

func load(cfg config.Transformer) (*Transformer, error) {
	scriptCode := cfg.ScriptCode
	if scriptCode == "" {
		if cfg.ScriptPath == "" {
			return nil, fmt.Errorf("no script code or script path given")
		}
		scriptBytes, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load script file %s: %v", cfg.ScriptPath, err)
		}
		scriptCode = string(scriptBytes)
	}

	return newTransformer(scriptCode, cfg.ScriptPath)
}

func newTransformer(scriptCode, scriptPath string) (*Transformer, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS] %s", msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			logger.Warn("script failed to parse JSON: %v", err)
			return nil
		}
		return data
	})

	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = "2006-01-02 15:04:05"
		}
		return time.Unix(timestamp, 0).Format(format)
	})

	_ = vm.Set("convertTemperature", ConvertTemperature)

	_ = vm.Set("validateRange", func(value float64, min float64, max float64) bool {
		return value >= min && value <= max
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("failed to run script: %v", err)
	}

	transform, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return nil, fmt.Errorf("script does not define a 'transform' function")
	}

	return &Transformer{
		vm:         vm,
		transform:  transform,
		scriptPath: scriptPath,
	}, nil
}

func deviceKey(deviceID string) string {
	return strings.ToLower(strings.TrimSpace(deviceID))
}

// ConvertTemperature converts between C, F and K. Unknown units leave the value unchanged.
func ConvertTemperature(value float64, fromUnit string, toUnit string) float64 {
	var celsius float64
	switch strings.ToUpper(fromUnit) {
	case "C":
		celsius = value
	case "F":
		celsius = (value - 32) * 5 / 9
	case "K":
		celsius = value - 273.15
	default:
		return value
	}

	switch strings.ToUpper(toUnit) {
	case "F":
		return celsius*9/5 + 32
	case "K":
		return celsius + 273.15
	default:
		return celsius
	}
}

// Has reports whether a script is registered for deviceID.
func (m *Manager) Has(deviceID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.transformers[deviceKey(deviceID)]
	return ok
}

// Apply runs the script registered for the payload's device id over text.
// Payloads without a registered script are returned unchanged.
func (m *Manager) Apply(data map[string]interface{}, text string) (map[string]interface{}, error) {
	if m == nil {
		return data, nil
	}

	deviceID, _ := data[KeyID].(string)

	m.mutex.RLock()
	t, exists := m.transformers[deviceKey(deviceID)]
	m.mutex.RUnlock()

	if !exists {
		return data, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.transform(goja.Undefined(), t.vm.ToValue(text))
	if err != nil {
		return nil, fmt.Errorf("transform for device %s failed: %v", deviceID, err)
	}

	out, ok := result.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transform for device %s returned %T, want an object", deviceID, result.Export())
	}

	return out, nil
}

// ReloadTransformer replaces the script for one device id.
func (m *Manager) ReloadTransformer(deviceID string, cfg config.Transformer) error {
	t, err := load(cfg)
	if err != nil {
		return fmt.Errorf("failed to reload transformer for device %s: %v", deviceID, err)
	}

	m.mutex.Lock()
	m.transformers[deviceKey(deviceID)] = t
	m.mutex.Unlock()

	logger.Info("reloaded transformer for device %s", deviceID)
	return nil
}
