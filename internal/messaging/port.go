package messaging

import (
	"errors"
	"sync"
)

// ErrChannelClosed is returned when replying on a closed MessageChannel.
var ErrChannelClosed = errors.New("messaging: reply channel closed")

// ReplyPort answers one request.
type ReplyPort interface {
	PostReply(r Reply) error
}

// Envelope is a request as seen by a listener, with the port to answer on.
type Envelope struct {
	Request Request
	Reply   ReplyPort
}

// Port is a one-way transport with attachable reply channels.
//
// Post must not wait for the request to be handled. A request nobody
// listens for is dropped silently.
type Port interface {
	Post(req Request, replies *MessageChannel) error
	Listen(fn func(Envelope)) (stop func())
	Closed() bool
}

// MessageChannel is the dedicated reply path of one request.
type MessageChannel struct {
	replies chan Reply
	done    chan struct{}
	once    sync.Once
}

// NewMessageChannel creates an open channel.
func NewMessageChannel() *MessageChannel {
	return &MessageChannel{
		replies: make(chan Reply, 4),
		done:    make(chan struct{}),
	}
}

// PostReply delivers r to the waiting sender. It blocks while the buffer
// is full and fails once the channel is closed.
func (c *MessageChannel) PostReply(r Reply) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.replies <- r:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// Replies returns the receive side.
func (c *MessageChannel) Replies() <-chan Reply {
	return c.replies
}

// Done is closed by Close.
func (c *MessageChannel) Done() <-chan struct{} {
	return c.done
}

// Close detaches the channel. Later replies are refused.
func (c *MessageChannel) Close() {
	c.once.Do(func() { close(c.done) })
}

// LocalPort delivers requests to in-process listeners, each on its own
// goroutine.
type LocalPort struct {
	mu        sync.Mutex
	listeners map[uint64]func(Envelope)
	next      uint64
	closed    bool
	inflight  sync.WaitGroup
}

// NewLocalPort creates an open port.
func NewLocalPort() *LocalPort {
	return &LocalPort{listeners: make(map[uint64]func(Envelope))}
}

// Post implements Port.
func (p *LocalPort) Post(req Request, replies *MessageChannel) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("local port closed")
	}
	fns := make([]func(Envelope), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.inflight.Add(len(fns))
	p.mu.Unlock()

	env := Envelope{Request: req, Reply: replies}
	for _, fn := range fns {
		go func(fn func(Envelope)) {
			defer p.inflight.Done()
			fn(env)
		}(fn)
	}
	return nil
}

// Listen implements Port.
func (p *LocalPort) Listen(fn func(Envelope)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Closed implements Port.
func (p *LocalPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close refuses new posts and waits for deliveries in flight.
func (p *LocalPort) Close() {
	p.mu.Lock()
	p.closed = true
	p.listeners = make(map[uint64]func(Envelope))
	p.mu.Unlock()
	p.inflight.Wait()
}
