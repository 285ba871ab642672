package peer

import (
	"sync"
	"sync/atomic"
	"time"

	metrics "stride/engine/internal/telemetry/metrics"
)

// Transport is the raw device channel. UpdateContext is cheap and
// coalescing (latest state wins); SendMessage is a direct delivery that may
// fail while the peer is unreachable. Implementations serialize their own
// I/O; the bridge calls UpdateContext and SendMessage only from its sender
// goroutine, while Reachable may be called from any goroutine, including
// the session executor.
type Transport interface {
	UpdateContext(d map[string]interface{}) error
	SendMessage(d map[string]interface{}) error
	Reachable() bool
}

// DefaultThrottle is the minimum spacing between non-forced direct sends.
const DefaultThrottle = 5 * time.Second

const sendQueueDepth = 64

type outgoing struct {
	payload map[string]interface{}
	force   bool
}

// Bridge publishes run messages to the paired device. Delivery errors are
// swallowed: the application context is re-published on every send, so a
// dropped message is superseded by the next one.
type Bridge struct {
	transport Transport
	throttle  time.Duration

	mu         sync.Mutex
	lastDirect time.Time

	queue   chan outgoing
	done    chan struct{}
	closed  atomic.Bool
	pending sync.WaitGroup

	mSends   metrics.Counter
	mDropped metrics.Counter
}

// NewBridge starts the sender loop over transport. A nil provider disables
// bridge metrics.
func NewBridge(transport Transport, throttle time.Duration, provider metrics.Provider) *Bridge {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	b := &Bridge{
		transport: transport,
		throttle:  throttle,
		queue:     make(chan outgoing, sendQueueDepth),
		done:      make(chan struct{}),
	}
	if provider != nil {
		b.mSends = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "stride", Subsystem: "peer", Name: "sends_total", Help: "Peer publishes by delivery path", Labels: []string{"path"}}})
		b.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "stride", Subsystem: "peer", Name: "dropped_total", Help: "Peer publishes dropped at a full send queue"}})
	}
	go b.sendLoop()
	return b
}

// Publish enqueues a message. Returns immediately; the sender goroutine owns
// all transport calls. A full queue drops the message (best effort; context
// coalescing means the next publish supersedes it).
func (b *Bridge) Publish(msg RunMessage, force bool) {
	if b.closed.Load() {
		return
	}
	b.pending.Add(1)
	select {
	case b.queue <- outgoing{payload: msg.Encode(), force: force}:
	default:
		b.pending.Done()
		if b.mDropped != nil {
			b.mDropped.Inc(1)
		}
	}
}

// Flush blocks until every queued message has been handed to the transport.
func (b *Bridge) Flush() { b.pending.Wait() }

// Close stops the sender after draining the queue.
func (b *Bridge) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.pending.Wait()
	close(b.queue)
	<-b.done
}

// Reachable reports the transport's current reachability.
func (b *Bridge) Reachable() bool { return b.transport.Reachable() }

func (b *Bridge) sendLoop() {
	defer close(b.done)
	for out := range b.queue {
		b.deliver(out)
		b.pending.Done()
	}
}

func (b *Bridge) deliver(out outgoing) {
	// Context update is always attempted; the transport coalesces.
	if err := b.transport.UpdateContext(out.payload); err == nil && b.mSends != nil {
		b.mSends.Inc(1, "context")
	}
	if !b.directAllowed(out.force) {
		return
	}
	if !b.transport.Reachable() {
		return
	}
	if err := b.transport.SendMessage(out.payload); err == nil && b.mSends != nil {
		b.mSends.Inc(1, "direct")
	}
}

// directAllowed applies the configured throttle to non-forced sends and
// stamps the window on success.
func (b *Bridge) directAllowed(force bool) bool {
	if force {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.Sub(b.lastDirect) < b.throttle {
		return false
	}
	b.lastDirect = now
	return true
}
