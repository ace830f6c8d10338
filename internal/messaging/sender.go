package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/telemetry/metric"
)

// Timeouts of the two-phase handshake.
const (
	// AckTimeout bounds the wait for the first reply.
	AckTimeout = 50 * time.Millisecond

	// LongAckTimeout is used once the peer is known to handle the event.
	LongAckTimeout = 800 * time.Millisecond

	// CompletionTimeout bounds the wait for DONE after ACK.
	CompletionTimeout = 3 * time.Second
)

// Sender issues requests over a Port.
type Sender struct {
	port       Port
	logger     *slog.Logger
	metrics    *metric.Registry
	completion time.Duration

	mu      sync.Mutex
	pending map[*MessageChannel]struct{}
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderLogger sets the logger.
func WithSenderLogger(l *slog.Logger) SenderOption {
	return func(s *Sender) { s.logger = l }
}

// WithSenderMetrics records request outcomes in m.
func WithSenderMetrics(m *metric.Registry) SenderOption {
	return func(s *Sender) { s.metrics = m }
}

// WithCompletionTimeout overrides CompletionTimeout.
func WithCompletionTimeout(d time.Duration) SenderOption {
	return func(s *Sender) { s.completion = d }
}

// NewSender creates a sender. A nil port makes every Send fail with
// ErrConnectionUnavailable.
func NewSender(port Port, opts ...SenderOption) *Sender {
	s := &Sender{
		port:       port,
		logger:     slog.Default(),
		completion: CompletionTimeout,
		pending:    make(map[*MessageChannel]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts eventType with data and waits for the handlers' outcomes.
//
// Without an ACK within ackTimeout it fails with ErrUnsupportedEvent;
// without DONE within the completion timeout after ACK it fails with
// ErrMessageTimeout. Replies arriving after Send returned are ignored.
func (s *Sender) Send(ctx context.Context, eventType string, data any, ackTimeout time.Duration) (outcomes []Outcome, err error) {
	defer func() { s.metrics.ObserveMessage(eventType, err) }()

	if s.port == nil || s.port.Closed() {
		return nil, domain.ErrConnectionUnavailable.WithDetails(eventType)
	}

	var payload json.RawMessage
	if data != nil {
		if payload, err = json.Marshal(data); err != nil {
			return nil, domain.ErrInvalidArgument.WithDetails("message data").WithCause(err)
		}
	}

	req := Request{
		EventType: eventType,
		EventID:   ulid.Make().String(),
		Data:      payload,
	}
	ch := NewMessageChannel()
	s.track(ch)
	defer func() {
		s.untrack(ch)
		ch.Close()
	}()

	if err := s.port.Post(req, ch); err != nil {
		return nil, domain.ErrConnectionUnavailable.WithDetails(eventType).WithCause(err)
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()
	acked := false

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-ch.Done():
			return nil, domain.ErrConnectionUnavailable.WithDetails("sender torn down")

		case <-timer.C:
			if acked {
				return nil, domain.ErrMessageTimeout.WithDetails(eventType)
			}
			return nil, domain.ErrUnsupportedEvent.WithDetails(eventType)

		case r := <-ch.Replies():
			if r.EventID != req.EventID {
				s.logger.Debug("ignoring reply for another request", "event_id", r.EventID)
				continue
			}
			switch r.Status {
			case StatusAck:
				if !acked {
					acked = true
					timer.Reset(s.completion)
				}
			case StatusDone:
				if err := json.Unmarshal(r.Response, &outcomes); err != nil {
					return nil, domain.ErrInvalidResponse.WithDetails("malformed outcomes").WithCause(err)
				}
				return outcomes, nil
			default:
				return nil, domain.ErrInvalidResponse.WithDetailsf("status %q", r.Status)
			}
		}
	}
}

// Teardown closes the reply channels of every outstanding request. Those
// requests fail with ErrConnectionUnavailable.
func (s *Sender) Teardown() {
	s.mu.Lock()
	chans := make([]*MessageChannel, 0, len(s.pending))
	for ch := range s.pending {
		chans = append(chans, ch)
	}
	s.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
	}
}

func (s *Sender) track(ch *MessageChannel) {
	s.mu.Lock()
	s.pending[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *Sender) untrack(ch *MessageChannel) {
	s.mu.Lock()
	delete(s.pending, ch)
	s.mu.Unlock()
}
