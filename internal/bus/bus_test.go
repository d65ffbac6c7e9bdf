package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func collect(ch chan *domain.Message) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		if _, err := bus.Subscribe(ctx, tenantID, domain.TopicAlert, collect(got)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if err := bus.Publish(ctx, tenantID, domain.TopicAlert, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := waitFor(t, got)
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
		}
		if msg.TenantID != tenantID || msg.Topic != domain.TopicAlert || msg.ID == "" {
			t.Errorf("unexpected envelope %+v", msg)
		}
	})

	t.Run("TypedPayload", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		if _, err := bus.Subscribe(ctx, tenantID, domain.TopicRunCompleted, collect(got)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		alert := domain.Alert{RunID: "run-1", TransactionID: "t9", RiskScore: 91, RiskCategory: domain.RiskCritical}
		if err := PublishJSON(ctx, bus, tenantID, domain.TopicRunCompleted, alert); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		decoded, err := Decode[domain.Alert](waitFor(t, got))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded != alert {
			t.Errorf("expected %+v, got %+v", alert, decoded)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		got1 := make(chan *domain.Message, 1)
		var received2 atomic.Int32
		bus.Subscribe(ctx, "tenant-A", "isolation.topic", collect(got1))
		bus.Subscribe(ctx, "tenant-B", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-A", "isolation.topic", []byte("msg1"))
		waitFor(t, got1)
		time.Sleep(20 * time.Millisecond)
		if received2.Load() != 0 {
			t.Errorf("tenant-B should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error { return nil })
		if !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", collect(got))
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.mu.RLock()
		_, present := bus.subscriptions[tenantID+":unsub.topic"]
		bus.mu.RUnlock()
		if present {
			t.Error("expected subscription to be removed from the bus")
		}

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("late"))
		select {
		case <-got:
			t.Error("expected no delivery after unsubscribe")
		case <-time.After(30 * time.Millisecond):
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(3)
		for i := 0; i < 3; i++ {
			bus.Subscribe(ctx, tenantID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
				wg.Done()
				return nil
			})
		}
		bus.Publish(ctx, tenantID, "multi.topic", []byte("broadcast"))

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not every subscriber received the message")
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error { return nil })
		if sub.Topic() != domain.TopicBatchSubmitted {
			t.Errorf("expected topic %s, got %s", domain.TopicBatchSubmitted, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	bus.Subscribe(ctx, "t1", "topic", func(ctx context.Context, msg *domain.Message) error { return nil })
	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
	if err := bus.Publish(ctx, "t1", "topic", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from ping, got %v", err)
	}
}

func TestChannelBusFullBuffer(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	var handled atomic.Int32
	bus.Subscribe(ctx, "t1", "slow", func(ctx context.Context, msg *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		if err := bus.Publish(ctx, "t1", "slow", nil); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}
	close(release)
	time.Sleep(50 * time.Millisecond)
	if n := handled.Load(); n == 0 || n > 2 {
		t.Errorf("expected one or two handled messages with a full buffer, got %d", n)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestSubject(t *testing.T) {
	tests := []struct {
		tenant string
		want   string
	}{
		{"acme", "kestrel.alert.acme"},
		{"acme.eu", "kestrel.alert.acme_eu"},
		{"a*b>c d", "kestrel.alert.a_b_c_d"},
	}
	for _, tt := range tests {
		if got := Subject(tt.tenant, domain.TopicAlert); got != tt.want {
			t.Errorf("tenant %q: expected %s, got %s", tt.tenant, tt.want, got)
		}
	}
}
