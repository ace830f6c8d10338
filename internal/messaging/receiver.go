package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yndnr/authpersist/internal/telemetry/logger"
)

// Handler processes the data of one request. The returned value is
// JSON-encoded into the handler's Outcome.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

type handlerEntry struct {
	id uint64
	fn Handler
}

// Receiver dispatches requests arriving on a Port to subscribed handlers.
//
// A request whose event type has no handler gets no reply at all.
type Receiver struct {
	port   Port
	logger *slog.Logger
	log    logger.Logger

	mu       sync.Mutex
	handlers map[string][]handlerEntry
	next     uint64
	stop     func()

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewReceiver creates a receiver for port. It starts listening with the
// first subscription.
func NewReceiver(port Port, l *slog.Logger) *Receiver {
	if l == nil {
		l = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Receiver{
		port:     port,
		logger:   l,
		log:      logger.FromSlog(l),
		handlers: make(map[string][]handlerEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

var (
	receiversMu sync.Mutex
	receivers   = make(map[Port]*Receiver)
)

// ReceiverFor returns the receiver bound to port, creating it on first
// use. Ports are compared by identity.
func ReceiverFor(port Port) *Receiver {
	receiversMu.Lock()
	defer receiversMu.Unlock()
	if r, ok := receivers[port]; ok {
		return r
	}
	r := NewReceiver(port, nil)
	receivers[port] = r
	return r
}

// Subscribe adds a handler for eventType. The returned function removes it.
func (r *Receiver) Subscribe(eventType string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	r.handlers[eventType] = append(r.handlers[eventType], handlerEntry{id: id, fn: h})
	if r.stop == nil {
		r.stop = r.port.Listen(r.handle)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(eventType, id) })
	}
}

// Unsubscribe removes every handler of eventType.
func (r *Receiver) Unsubscribe(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, eventType)
	r.stopIfIdleLocked()
}

// Close stops listening, cancels running handlers and waits for them.
func (r *Receiver) Close() {
	r.mu.Lock()
	r.handlers = make(map[string][]handlerEntry)
	r.stopIfIdleLocked()
	r.mu.Unlock()

	r.cancel()
	r.running.Wait()

	receiversMu.Lock()
	if receivers[r.port] == r {
		delete(receivers, r.port)
	}
	receiversMu.Unlock()
}

func (r *Receiver) remove(eventType string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[eventType]
	for i, e := range entries {
		if e.id == id {
			kept := make([]handlerEntry, 0, len(entries)-1)
			kept = append(kept, entries[:i]...)
			kept = append(kept, entries[i+1:]...)
			if len(kept) == 0 {
				delete(r.handlers, eventType)
			} else {
				r.handlers[eventType] = kept
			}
			break
		}
	}
	r.stopIfIdleLocked()
}

func (r *Receiver) stopIfIdleLocked() {
	if len(r.handlers) == 0 && r.stop != nil {
		r.stop()
		r.stop = nil
	}
}

func (r *Receiver) handle(env Envelope) {
	req := env.Request

	r.mu.Lock()
	entries := r.handlers[req.EventType]
	if len(entries) == 0 {
		r.mu.Unlock()
		return
	}
	r.running.Add(1)
	r.mu.Unlock()
	defer r.running.Done()

	if err := env.Reply.PostReply(Reply{EventID: req.EventID, EventType: req.EventType, Status: StatusAck}); err != nil {
		r.logger.Debug("ack not delivered", "event_type", req.EventType, "error", err)
		return
	}

	ctx := logger.WithMessageID(logger.WithLogger(r.ctx, r.log), req.EventID)
	outcomes := make([]Outcome, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, fn Handler) {
			defer wg.Done()
			outcomes[i] = r.invoke(ctx, fn, req.Data)
		}(i, e.fn)
	}
	wg.Wait()

	response, err := json.Marshal(outcomes)
	if err != nil {
		logger.L(ctx).Warn("encode outcomes", "event_type", req.EventType, "error", err)
		return
	}
	if err := env.Reply.PostReply(Reply{
		EventID:   req.EventID,
		EventType: req.EventType,
		Status:    StatusDone,
		Response:  response,
	}); err != nil {
		logger.L(ctx).Debug("done not delivered", "event_type", req.EventType, "error", err)
	}
}

func (r *Receiver) invoke(ctx context.Context, fn Handler, data json.RawMessage) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			logger.L(ctx).Warn("handler panicked", "panic", p)
			out = rejected(fmt.Errorf("handler panic: %v", p))
		}
	}()
	v, err := fn(ctx, data)
	if err != nil {
		return rejected(err)
	}
	return fulfilled(v)
}
