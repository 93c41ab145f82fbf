package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/whatsapp-gemini-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/relay"
	"github.com/wolfman30/whatsapp-gemini-relay/pkg/logging"
)

var webhookTracer = otel.Tracer("relay.internal.http.handlers.whatsapp")

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Dispatcher answers a batch of inbound messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []whatsapp.InboundMessage) relay.Result
}

// WebhookResponse is the JSON body returned for POST /webhook.
type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WhatsAppWebhookHandler serves the WhatsApp webhook verification handshake
// and inbound event deliveries.
type WhatsAppWebhookHandler struct {
	verifyToken string
	appSecret   string
	dispatcher  Dispatcher
	metrics     *metrics.RelayMetrics
	logger      *logging.Logger
}

// NewWhatsAppWebhookHandler builds the handler. An empty appSecret disables
// X-Hub-Signature-256 checks.
func NewWhatsAppWebhookHandler(verifyToken, appSecret string, dispatcher Dispatcher, m *metrics.RelayMetrics, logger *logging.Logger) *WhatsAppWebhookHandler {
	if dispatcher == nil {
		panic("handlers: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		dispatcher:  dispatcher,
		metrics:     m,
		logger:      logger,
	}
}

// HandleVerification handles GET /webhook (Meta challenge).
func (h *WhatsAppWebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
	if !ok {
		h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "Forbidden")
		return
	}

	h.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// HandleInbound handles POST /webhook. It answers every extracted text message
// before responding, and reports an error if any stage failed, even when some
// replies were already delivered.
func (h *WhatsAppWebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "whatsapp.webhook", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	status := statusError
	defer func() {
		h.metrics.ObserveInbound(status)
		h.metrics.ObserveWebhookLatency(status, time.Since(start).Seconds())
	}()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			h.logger.Error("error processing webhook", "error", err)
			writeWebhookError(w, err)
		}
	}()

	res, err := h.process(ctx, r)
	span.SetAttributes(
		attribute.Int("relay.processed", res.Processed),
		attribute.Int("relay.delivered", res.Delivered),
		attribute.Int("relay.rejected", res.Rejected),
		attribute.Int("relay.fallbacks", res.Fallbacks),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("error processing webhook",
			"error", err,
			"processed", res.Processed,
			"delivered", res.Delivered,
			"rejected", res.Rejected,
		)
		writeWebhookError(w, err)
		return
	}

	status = statusSuccess
	writeJSON(w, http.StatusOK, WebhookResponse{Status: statusSuccess})
}

func (h *WhatsAppWebhookHandler) process(ctx context.Context, r *http.Request) (relay.Result, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return relay.Result{}, &relay.StageError{Stage: relay.StageReceive, Err: err}
	}

	if h.appSecret != "" {
		if !whatsapp.VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			return relay.Result{}, &relay.StageError{Stage: relay.StageVerify, Err: errors.New("invalid signature")}
		}
	}

	msgs := whatsapp.ExtractMessages(body)
	if len(msgs) == 0 {
		h.logger.Debug("webhook carried no text messages")
	}
	res := h.dispatcher.Dispatch(ctx, msgs)
	return res, res.Err
}

func writeWebhookError(w http.ResponseWriter, err error) {
	msg := err.Error()
	var stageErr *relay.StageError
	if errors.As(err, &stageErr) && stageErr.Err != nil {
		msg = stageErr.Err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, WebhookResponse{Status: statusError, Message: msg})
}
