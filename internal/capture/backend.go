package capture

import (
	"context"
	"sync"

	"Go2NetCapture/internal/model"
)

// Backend is a native packet capture provider. Start and Stop are
// acknowledgements only; packets and status changes arrive through a
// Subscription.
type Backend interface {
	// Readiness reports whether the backend can capture at all.
	Readiness(ctx context.Context) (model.Readiness, error)
	// Interfaces lists the capture devices.
	Interfaces(ctx context.Context) ([]model.Interface, error)
	// Start begins capturing on iface ("" picks a default device) for
	// the given protocols. bpf is an optional user filter expression
	// passed through verbatim.
	Start(ctx context.Context, iface string, protocols []model.Protocol, bpf string) error
	// Stop ends the running capture, if any.
	Stop(ctx context.Context) error
	// Subscribe opens the event stream of the backend.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is an open backend event stream. Events is closed once the
// subscription ends, either by Close or by the backend going away.
type Subscription interface {
	Events() <-chan model.Event
	Close() error
}

// Store is the saved-capture persistence used by the controller.
type Store interface {
	Save(ctx context.Context, label string, packets []model.PacketRecord) (model.SavedCapture, error)
	Get(id string) (model.SavedCapture, error)
	Delete(ctx context.Context, ids []string) (int, error)
	List() []model.SavedCaptureSummary
}

// ChanSubscription is a Subscription over a plain channel. The producer
// calls Send for every event and End once it stops producing; the consumer
// calls Close.
type ChanSubscription struct {
	events    chan model.Event
	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
}

// NewChanSubscription creates a subscription with the given buffer size.
func NewChanSubscription(size int) *ChanSubscription {
	return &ChanSubscription{
		events: make(chan model.Event, size),
		done:   make(chan struct{}),
	}
}

// Events implements Subscription.
func (s *ChanSubscription) Events() <-chan model.Event {
	return s.events
}

// Send delivers ev unless the consumer has closed the subscription. It
// blocks while the buffer is full. Send must not be called after End.
func (s *ChanSubscription) Send(ev model.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// TrySend delivers ev only if the buffer has room.
func (s *ChanSubscription) TrySend(ev model.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// End closes the event channel from the producer side.
func (s *ChanSubscription) End() {
	s.endOnce.Do(func() { close(s.events) })
}

// Done is closed when the consumer closes the subscription.
func (s *ChanSubscription) Done() <-chan struct{} {
	return s.done
}

// Close implements Subscription.
func (s *ChanSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
