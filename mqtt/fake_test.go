package mqtt

import (
	"context"
	"errors"
	"sync"

	"github.com/eddielth/telemetry-bridge/transformer"
)

type publishedMessage struct {
	topic   string
	payload []byte
}

type delivery struct {
	topic   string
	payload []byte
	done    chan struct{}
}

// fakeTransport delivers messages on one goroutine, like paho with ordered delivery.
type fakeTransport struct {
	mu           sync.Mutex
	connectErrs  []error
	connectCalls int
	subErr       error
	subscribed   []string
	published    []publishedMessage
	online       bool
	disconnected bool
	inbox        chan delivery
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan delivery, 64)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.online = true
	return nil
}

func (f *fakeTransport) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, topic)

	go func() {
		for d := range f.inbox {
			handler(d.topic, d.payload)
			close(d.done)
		}
	}()
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic, payload})
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = false
	f.disconnected = true
}

// deliver queues a message and returns a channel closed once it was handled.
func (f *fakeTransport) deliver(topic string, payload []byte) <-chan struct{} {
	d := delivery{topic: topic, payload: payload, done: make(chan struct{})}
	f.inbox <- d
	return d.done
}

func (f *fakeTransport) sent() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

type memoryStore struct {
	mu      sync.Mutex
	records []transformer.TelemetryRecord
	err     error
}

func (m *memoryStore) EnsureSchema(context.Context) error { return nil }

func (m *memoryStore) Insert(_ context.Context, r transformer.TelemetryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memoryStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) all() []transformer.TelemetryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transformer.TelemetryRecord(nil), m.records...)
}

var errBrokerDown = errors.New("broker unreachable")
