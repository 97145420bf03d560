package hub

import (
	"errors"
	"sync"

	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/metrics"
	"github.com/graham924/blog-feng-yu/pkg/log"
)

// Broadcaster fans frames out to every registered client. Frames are
// enqueued under one lock, so all clients observe the same order.
type Broadcaster struct {
	registry *Registry
	metrics  *metrics.Metrics
	mu       sync.Mutex
}

func NewBroadcaster(registry *Registry, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, metrics: m}
}

// Broadcast encodes an envelope once and delivers it to every client. It
// returns the number of clients the frame was queued for.
func (b *Broadcaster) Broadcast(t domain.ChatType, data interface{}) (int, error) {
	raw, err := domain.Encode(t, data)
	if err != nil {
		return 0, err
	}
	return b.fanout(t.String(), raw), nil
}

// BroadcastRaw delivers an already encoded frame verbatim.
func (b *Broadcaster) BroadcastRaw(raw []byte) int {
	return b.fanout("raw", raw)
}

// SendTo delivers one envelope to a single client.
func (b *Broadcaster) SendTo(c *Client, t domain.ChatType, data interface{}) error {
	raw, err := domain.Encode(t, data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	err = c.Enqueue(raw)
	b.mu.Unlock()

	if err != nil {
		b.drop(c, err)
		return err
	}
	return nil
}

func (b *Broadcaster) fanout(label string, raw []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, c := range b.registry.Snapshot() {
		if err := c.Enqueue(raw); err != nil {
			b.drop(c, err)
			continue
		}
		delivered++
	}

	b.metrics.Broadcast(label)
	return delivered
}

// drop closes a client that could not take a frame. Its read pump then
// exits and the regular close path unregisters it.
func (b *Broadcaster) drop(c *Client, err error) {
	reason := "closed"
	if errors.Is(err, ErrSendQueueFull) {
		reason = "queue_full"
		l := log.L()
		l.Warn().Str(log.FieldConnID, c.ID).Str(log.FieldRemoteIP, c.RemoteIP).Msg("send queue full, closing connection")
	}
	b.metrics.TransportError(reason)
	c.Close()
}
