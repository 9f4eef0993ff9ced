package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/eddielth/telemetry-bridge/logger"
	"github.com/eddielth/telemetry-bridge/storage"
	"github.com/eddielth/telemetry-bridge/transformer"
	"github.com/eddielth/telemetry-bridge/validator"
)

var (
	// ErrConnection is returned when the initial connect or subscribe fails.
	ErrConnection = errors.New("connection error")
	// ErrPublishDropped is returned by Publish while the bridge is not connected.
	ErrPublishDropped = errors.New("publish dropped: not connected")
)

const maxRetryBackoff = 30 * time.Second

// Cipher is the payload codec used by the bridge.
type Cipher interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(blob []byte) (string, error)
}

// LastMessage is the most recent inbound payload that decrypted and decoded
// as a JSON object. It is cached before field validation.
type LastMessage struct {
	Text       string
	Topic      string
	ReceivedAt time.Time
}

// Status is a point-in-time view of the bridge.
type Status struct {
	// Connected is set once connect and subscribe succeed and is cleared only by Stop.
	Connected bool
	// Online reports the live state of the broker connection.
	Online        bool
	LastMessageAt time.Time
	Received      uint64
	Persisted     uint64
	Rejected      uint64
}

// Options configures a Bridge.
type Options struct {
	TopicSub string
	TopicPub string
	// ConnectRetries is the number of extra connect attempts after the first.
	ConnectRetries int
	RetryBackoff   time.Duration
	Transformers   *transformer.Manager
	Validators     []validator.Validator
}

// Bridge decrypts inbound telemetry into the store and encrypts outbound commands.
type Bridge struct {
	transport Transport
	cipher    Cipher
	store     storage.Store
	opts      Options

	connected atomic.Bool
	last      atomic.Pointer[LastMessage]

	received  atomic.Uint64
	persisted atomic.Uint64
	rejected  atomic.Uint64

	now func() time.Time
}

// NewBridge wires a bridge. It does not connect; call Start.
func NewBridge(transport Transport, cipher Cipher, store storage.Store, opts Options) (*Bridge, error) {
	if transport == nil || cipher == nil || store == nil {
		return nil, fmt.Errorf("bridge needs a transport, a cipher and a store")
	}
	if opts.TopicSub == "" {
		return nil, fmt.Errorf("subscribe topic cannot be empty")
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}

	return &Bridge{
		transport: transport,
		cipher:    cipher,
		store:     store,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Start connects and subscribes. With ConnectRetries > 0 failed connects are
// retried with doubling backoff; otherwise a failure leaves the bridge
// disconnected until Start is called again.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.connect(ctx); err != nil {
		logger.Error("MQTT connection failed: %v", err)
		return err
	}

	if err := b.transport.Subscribe(b.opts.TopicSub, b.onMessage); err != nil {
		b.transport.Disconnect()
		logger.Error("MQTT subscribe failed: %v", err)
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	b.connected.Store(true)
	logger.Info("bridge subscribed to '%s'", b.opts.TopicSub)
	return nil
}

func (b *Bridge) connect(ctx context.Context) error {
	backoff := b.opts.RetryBackoff

	var err error
	for attempt := 0; attempt <= b.opts.ConnectRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("connect attempt %d failed: %v, retrying in %s", attempt, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
			}
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
		}

		if err = b.transport.Connect(ctx); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// Stop disconnects from the broker. Publish is dropped afterwards.
func (b *Bridge) Stop() {
	b.connected.Store(false)
	b.transport.Disconnect()
}

func (b *Bridge) onMessage(topic string, payload []byte) {
	if err := b.handleMessage(context.Background(), topic, payload); err != nil {
		if errors.Is(err, storage.ErrStore) {
			logger.Error("failed to persist message from %s: %v", topic, err)
			return
		}
		logger.Warn("discarded message from %s: %v", topic, err)
	}
}

// handleMessage runs the inbound pipeline for one payload:
// decrypt, decode, cache, normalize, validate, persist.
func (b *Bridge) handleMessage(ctx context.Context, topic string, payload []byte) error {
	b.received.Add(1)

	text, err := b.cipher.Decrypt(payload)
	if err != nil {
		b.rejected.Add(1)
		return err
	}
	logger.Debug("decrypted message on %s: %s", topic, text)

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(text), &data); err != nil || data == nil {
		b.rejected.Add(1)
		return fmt.Errorf("%w: payload is not a JSON object", validator.ErrSchema)
	}

	// cached before validation: a decodable but malformed message is visible
	// here and absent from the store
	b.last.Store(&LastMessage{
		Text:       text,
		Topic:      topic,
		ReceivedAt: b.now(),
	})

	data, err = b.opts.Transformers.Apply(data, text)
	if err != nil {
		b.rejected.Add(1)
		return fmt.Errorf("%w: %v", validator.ErrSchema, err)
	}

	record, err := validator.ParseTelemetry(data)
	if err != nil {
		b.rejected.Add(1)
		return err
	}
	if err := validator.Chain(record, b.opts.Validators...); err != nil {
		b.rejected.Add(1)
		return err
	}

	if err := b.store.Insert(ctx, record); err != nil {
		return err
	}

	b.persisted.Add(1)
	return nil
}

// Publish encrypts payload and sends it to topic, or to the default publish
// topic when topic is empty. Strings and byte slices are sent as they are,
// anything else is encoded as JSON. Delivery is not confirmed.
func (b *Bridge) Publish(payload interface{}, topic string) error {
	if !b.connected.Load() {
		logger.Warn("not connected to broker, message dropped")
		return ErrPublishDropped
	}

	dest := topic
	if dest == "" {
		dest = b.opts.TopicPub
	}
	if dest == "" {
		return fmt.Errorf("no destination topic for publish")
	}

	var text string
	switch v := payload.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %v", err)
		}
		text = string(encoded)
	}

	blob, err := b.cipher.Encrypt(text)
	if err != nil {
		return err
	}

	if err := b.transport.Publish(dest, blob); err != nil {
		logger.Error("failed to publish to '%s': %v", dest, err)
		return err
	}

	logger.Info("published encrypted message to '%s'", dest)
	return nil
}

// LastMessage returns the cached inbound message, if any has been received.
func (b *Bridge) LastMessage() (LastMessage, bool) {
	m := b.last.Load()
	if m == nil {
		return LastMessage{}, false
	}
	return *m, true
}

// Connected reports whether Start succeeded.
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// Status returns counters and connection state.
func (b *Bridge) Status() Status {
	s := Status{
		Connected: b.connected.Load(),
		Online:    b.transport.IsConnected(),
		Received:  b.received.Load(),
		Persisted: b.persisted.Load(),
		Rejected:  b.rejected.Load(),
	}
	if m := b.last.Load(); m != nil {
		s.LastMessageAt = m.ReceivedAt
	}
	return s
}
