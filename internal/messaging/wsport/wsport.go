// Package wsport carries messaging requests and replies over a WebSocket.
//
// Each text frame holds one JSON object with the request or reply wire
// shape; a frame with a status is a reply. Either end of a Conn can post
// requests and listen for them, so a page process can dial a worker
// process and drive its Receiver.
package wsport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/authpersist/internal/messaging"
)

const writeWait = 5 * time.Second

// ErrClosed is returned when posting on a closed connection.
var ErrClosed = errors.New("wsport: connection closed")

type frame struct {
	EventType string           `json:"eventType"`
	EventID   string           `json:"eventId"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Status    messaging.Status `json:"status,omitempty"`
	Response  json.RawMessage  `json:"response,omitempty"`
}

// Conn is a messaging.Port over one WebSocket connection.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]*messaging.MessageChannel
	listeners map[uint64]func(messaging.Envelope)
	next      uint64
	closed    bool

	done    chan struct{}
	closeMu sync.Once
	tasks   sync.WaitGroup
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		ws:        ws,
		logger:    logger,
		pending:   make(map[string]*messaging.MessageChannel),
		listeners: make(map[uint64]func(messaging.Envelope)),
		done:      make(chan struct{}),
	}
	c.tasks.Add(1)
	go c.readLoop()
	return c
}

// Dial connects to a worker endpoint served by Handler.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newConn(ws, logger), nil
}

// Handler upgrades requests to WebSocket connections and hands each Conn
// to accept. The HTTP handler returns when the connection closes.
func Handler(accept func(*Conn), logger *slog.Logger) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logger != nil {
				logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		c := newConn(ws, logger)
		accept(c)
		<-c.done
		c.Close()
	})
}

// Post implements messaging.Port.
func (c *Conn) Post(req messaging.Request, replies *messaging.MessageChannel) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[req.EventID] = replies
	c.tasks.Add(1)
	c.mu.Unlock()

	// Forget the reply route once the sender is done with it.
	go func() {
		defer c.tasks.Done()
		select {
		case <-replies.Done():
		case <-c.done:
		}
		c.mu.Lock()
		delete(c.pending, req.EventID)
		c.mu.Unlock()
	}()

	if err := c.write(frame{EventType: req.EventType, EventID: req.EventID, Data: req.Data}); err != nil {
		c.mu.Lock()
		delete(c.pending, req.EventID)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Listen implements messaging.Port.
func (c *Conn) Listen(fn func(messaging.Envelope)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Closed implements messaging.Port.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame, closes the socket and waits for the read
// loop and running listeners.
func (c *Conn) Close() error {
	var err error
	c.closeMu.Do(func() {
		c.markClosed()
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	c.tasks.Wait()
	return err
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Conn) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.Closed() {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop() {
	defer c.tasks.Done()
	defer c.markClosed()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.Closed() {
				c.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if f.Status != "" {
			c.routeReply(f)
			continue
		}
		c.deliverRequest(f)
	}
}

func (c *Conn) routeReply(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.EventID]
	c.mu.Unlock()
	if !ok {
		return
	}
	reply := messaging.Reply{EventID: f.EventID, EventType: f.EventType, Status: f.Status, Response: f.Response}
	if err := ch.PostReply(reply); err != nil {
		c.logger.Debug("late reply dropped", "event_id", f.EventID)
	}
}

func (c *Conn) deliverRequest(f frame) {
	c.mu.Lock()
	fns := make([]func(messaging.Envelope), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.tasks.Add(len(fns))
	c.mu.Unlock()

	env := messaging.Envelope{
		Request: messaging.Request{EventType: f.EventType, EventID: f.EventID, Data: f.Data},
		Reply:   replyWriter{c},
	}
	for _, fn := range fns {
		go func(fn func(messaging.Envelope)) {
			defer c.tasks.Done()
			fn(env)
		}(fn)
	}
}

// replyWriter sends replies back over the connection the request came in on.
type replyWriter struct {
	c *Conn
}

func (w replyWriter) PostReply(r messaging.Reply) error {
	return w.c.write(frame{EventType: r.EventType, EventID: r.EventID, Status: r.Status, Response: r.Response})
}

var _ messaging.Port = (*Conn)(nil)
