package livecap

import (
	"sync"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/model"
)

const subscriptionBuffer = 1024

// hub fans backend events out to every open subscription.
type hub struct {
	mu   sync.Mutex
	subs map[*capture.ChanSubscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*capture.ChanSubscription]struct{})}
}

func (h *hub) subscribe() *capture.ChanSubscription {
	sub := capture.NewChanSubscription(subscriptionBuffer)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// publish delivers ev to every subscription. Packets are dropped for a
// subscriber that is not keeping up; status and error events wait.
// It reports how many packet deliveries were dropped.
func (h *hub) publish(ev model.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for sub := range h.subs {
		select {
		case <-sub.Done():
			delete(h.subs, sub)
			sub.End()
			continue
		default:
		}

		if ev.Kind == model.EventPacket {
			if !sub.TrySend(ev) {
				dropped++
			}
			continue
		}
		sub.Send(ev)
	}
	return dropped
}

// close ends every subscription.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.End()
	}
}
