package domain

import "context"

// Topics carried on the event bus.
const (
	// TopicBatchSubmitted carries a BatchSubmission for the async worker.
	TopicBatchSubmitted = "kestrel.batch.submitted"
	// TopicRunCompleted carries the final Run, completed or failed.
	TopicRunCompleted = "kestrel.run.completed"
	// TopicAlert carries one Alert per high-risk record.
	TopicAlert = "kestrel.alert"
)

// EventBus moves run events between the API, the worker and downstream
// consumers. Every call is scoped to a tenant; a subscriber never sees
// another tenant's messages.
type EventBus interface {
	Publish(ctx context.Context, tenantID, topic string, payload []byte) error
	Subscribe(ctx context.Context, tenantID, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler is invoked once per delivered message. A returned error is
// logged by the bus; the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around a JSON-encoded run event.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus backend.
type EventBusConfig struct {
	Type string // "channel" or "nats"

	ChannelBufferSize int // per subscription

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}
