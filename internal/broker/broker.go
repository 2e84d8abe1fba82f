package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/mailbox"
)

// ErrStopped is returned by Submit once the dispatch loop has exited.
var ErrStopped = errors.New("broker: stopped")

// Broker serializes registry mutations and fan-out decisions through a single
// dispatch loop fed by an unbounded event queue.
type Broker struct {
	registry *Registry
	filters  Chain
	queue    *mailbox.Mailbox[Event]
	log      *slog.Logger
	started  atomic.Bool
	done     chan struct{}
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithFilters appends filters to the chain. The chain is fixed once the
// broker is built.
func WithFilters(filters ...Filter) Option {
	return func(b *Broker) {
		b.filters = append(b.filters, filters...)
	}
}

// WithLogger sets the logger used by the broker and its registry.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithQueue makes the broker consume from q instead of a fresh queue. Events
// already pushed to q are processed first once Run starts.
func WithQueue(q *mailbox.Mailbox[Event]) Option {
	return func(b *Broker) {
		if q != nil {
			b.queue = q
		}
	}
}

// New creates a broker with an empty registry.
func New(opts ...Option) *Broker {
	b := &Broker{
		queue: mailbox.New[Event](),
		log:   slog.Default(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(logger.Component("broker"))
	b.registry = NewRegistry(b.log)
	return b
}

// Submit enqueues ev without blocking. Events are processed in arrival order.
func (b *Broker) Submit(ev Event) error {
	if err := b.queue.Push(ev); err != nil {
		return ErrStopped
	}
	return nil
}

// Run processes events until a Stop event is dequeued. It must be called at
// most once, normally in its own goroutine.
func (b *Broker) Run() {
	if !b.started.CompareAndSwap(false, true) {
		b.log.Error("broker loop already running")
		return
	}
	defer close(b.done)
	defer b.queue.Close()

	b.log.Info("broker started", logger.Count("filters", len(b.filters)))

	for {
		ev, err := b.queue.Pop(context.Background())
		if err != nil {
			b.log.Info("broker queue closed")
			return
		}
		if _, ok := ev.(Stop); ok {
			b.log.Info("broker stopped",
				logger.Count("clients", b.registry.Len()),
				logger.Count("pending", b.queue.Len()),
			)
			return
		}
		b.Handle(ev)
	}
}

// Done is closed when Run returns.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// Handle applies a single event to the broker state. It must only be called
// from the goroutine that owns the broker: Run's, or a test driving the
// broker without Run. Stop is ignored here; only Run acts on it.
func (b *Broker) Handle(ev Event) {
	switch ev := ev.(type) {
	case Connect:
		b.handleConnect(ev)
	case Disconnect:
		b.handleDisconnect(ev)
	case Sending:
		b.handleSending(ev)
	case Stop:
		b.log.Warn("stop event outside the dispatch loop ignored")
	case nil:
		b.log.Warn("nil event ignored")
	}
}

func (b *Broker) handleConnect(ev Connect) {
	if ev.Channel == nil {
		b.log.Warn("connect without delivery channel ignored", logger.User(string(ev.User.ID)))
		return
	}
	replaced := b.registry.Register(ev.User, ev.Channel)
	b.log.Info("client connected",
		logger.User(string(ev.User.ID)),
		slog.String("display_name", ev.User.DisplayName),
		slog.Bool("replaced", replaced),
		logger.Count("clients", b.registry.Len()),
	)
}

func (b *Broker) handleDisconnect(ev Disconnect) {
	if !b.registry.Unregister(ev.User.ID) {
		return
	}
	b.log.Info("client disconnected",
		logger.User(string(ev.User.ID)),
		logger.Count("clients", b.registry.Len()),
	)
}

func (b *Broker) handleSending(ev Sending) {
	if verdict, idx := b.filters.Evaluate(ev.Text); verdict == Block {
		b.log.Debug("message dropped by filter",
			logger.User(string(ev.From)),
			slog.Int("filter", idx),
			slog.Int("length", len(ev.Text)),
		)
		return
	}

	delivered, failed := b.registry.BroadcastExcept(ev.From, ev.Text)
	b.log.Debug("message broadcast",
		logger.User(string(ev.From)),
		logger.Count("delivered", delivered),
		logger.Count("failed", len(failed)),
	)
}

// Registry exposes the connection registry for inspection. It is only safe to
// use after Run has returned, or when the caller drives Handle itself.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// Shutdown submits Stop and waits for the dispatch loop to exit. It returns
// context.DeadlineExceeded if the loop is still running after timeout.
func (b *Broker) Shutdown(timeout time.Duration) error {
	b.log.Info("initiating broker shutdown")

	// A stopped broker has a closed queue; that is fine, done is closed too.
	_ = b.Submit(Stop{})

	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		b.log.Warn("broker shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
