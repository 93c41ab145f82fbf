package relay

import (
	"context"
	"fmt"

	"github.com/wolfman30/whatsapp-gemini-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-gemini-relay/pkg/logging"
)

// Stage names the step of a webhook request that failed.
type Stage string

const (
	StageReceive Stage = "receive"
	StageVerify  Stage = "verify"
	StageDeliver Stage = "deliver"
)

// StageError reports which stage failed and, for per-message stages, which
// message was being handled.
type StageError struct {
	Stage     Stage
	MessageID string
	Recipient string
	Err       error
}

func (e *StageError) Error() string {
	if e.MessageID != "" || e.Recipient != "" {
		return fmt.Sprintf("%s message %s to %s: %v", e.Stage, e.MessageID, e.Recipient, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result summarizes one dispatch. Err is nil on success; on failure it is a
// *StageError and Delivered counts replies already sent before the failure.
// Rejected counts replies the Graph API answered with an error body.
type Result struct {
	Processed int
	Delivered int
	Rejected  int
	Skipped   int
	Fallbacks int
	Err       error
}

// OK reports whether every message was handled.
func (r Result) OK() bool { return r.Err == nil }

// Sender delivers replies to WhatsApp users.
type Sender interface {
	SendText(ctx context.Context, reply whatsapp.OutboundReply) (*whatsapp.SendResponse, error)
}

// Service relays inbound messages to the completer and back to the sender.
type Service struct {
	generator *Generator
	sender    Sender
	deduper   Deduper
	metrics   *metrics.RelayMetrics
	logger    *logging.Logger
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithDeduper skips messages whose id was already claimed.
func WithDeduper(d Deduper) Option {
	return func(s *Service) { s.deduper = d }
}

// WithMetrics records generation and delivery outcomes.
func WithMetrics(m *metrics.RelayMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(generator *Generator, sender Sender, logger *logging.Logger, opts ...Option) *Service {
	if generator == nil {
		panic("relay: generator cannot be nil")
	}
	if sender == nil {
		panic("relay: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{generator: generator, sender: sender, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch answers each message in order, one at a time. The first delivery
// failure (transport error or unreadable response) stops the loop; replies sent
// before it are not rolled back. A reply the Graph API rejects is logged and
// the loop moves on to the next sender.
func (s *Service) Dispatch(ctx context.Context, msgs []whatsapp.InboundMessage) Result {
	var res Result
	for _, msg := range msgs {
		if msg.Text == "" {
			res.Skipped++
			continue
		}
		if !s.claim(ctx, msg) {
			res.Skipped++
			continue
		}

		res.Processed++
		s.logger.Info("received message", "from", msg.From, "message_id", msg.MessageID)

		gen := s.generator.Generate(ctx, msg.Text)
		s.metrics.ObserveGeneration(gen.Fallback)
		if gen.Fallback {
			res.Fallbacks++
		}

		resp, err := s.sender.SendText(ctx, whatsapp.OutboundReply{To: msg.From, Body: gen.Text})
		if err != nil {
			s.metrics.ObserveOutbound("error")
			s.release(ctx, msg)
			res.Err = &StageError{
				Stage:     StageDeliver,
				MessageID: msg.MessageID,
				Recipient: msg.From,
				Err:       err,
			}
			return res
		}
		if rejection := resp.Rejection(); rejection != nil {
			s.metrics.ObserveOutbound("rejected")
			s.release(ctx, msg)
			res.Rejected++
			s.logger.Warn("reply rejected by whatsapp",
				"error", rejection,
				"to", msg.From,
				"message_id", msg.MessageID,
				"status", resp.StatusCode,
			)
			continue
		}
		s.metrics.ObserveOutbound("sent")
		res.Delivered++
		s.logger.Info("reply sent", "to", msg.From, "reply_message_id", resp.MessageID(), "fallback", gen.Fallback)
	}
	return res
}

func (s *Service) claim(ctx context.Context, msg whatsapp.InboundMessage) bool {
	if s.deduper == nil {
		return true
	}
	ok, err := s.deduper.Claim(ctx, msg.MessageID)
	if err != nil {
		s.logger.Warn("dedup claim failed, processing anyway", "error", err, "message_id", msg.MessageID)
		return true
	}
	if !ok {
		s.logger.Info("skipping duplicate message", "message_id", msg.MessageID, "from", msg.From)
	}
	return ok
}

func (s *Service) release(ctx context.Context, msg whatsapp.InboundMessage) {
	if s.deduper == nil {
		return
	}
	if err := s.deduper.Release(ctx, msg.MessageID); err != nil {
		s.logger.Warn("dedup release failed", "error", err, "message_id", msg.MessageID)
	}
}
