package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/whatsapp-gemini-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/http/handlers"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-gemini-relay/internal/relay"
	"github.com/wolfman30/whatsapp-gemini-relay/pkg/logging"
)

type recordingDispatcher struct {
	calls [][]whatsapp.InboundMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msgs []whatsapp.InboundMessage) relay.Result {
	d.calls = append(d.calls, msgs)
	return relay.Result{Processed: len(msgs), Delivered: len(msgs)}
}

func newTestRouter(t *testing.T) (http.Handler, *recordingDispatcher) {
	t.Helper()

	logger := logging.New("error")
	reg := prometheus.NewRegistry()
	m := metrics.NewRelayMetrics(reg)
	dispatcher := &recordingDispatcher{}

	cfg := &Config{
		Logger:         logger,
		WebhookHandler: handlers.NewWhatsAppWebhookHandler("verify", "", dispatcher, m, logger),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	return New(cfg), dispatcher
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp["status"])
	}
}

func TestRouterHomeEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "WhatsApp Gemini Bot is running") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestRouterWebhookVerification(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify&hub.challenge=42", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "42" {
		t.Fatalf("expected 200 42, got %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRouterWebhookPostAndMetrics(t *testing.T) {
	router, dispatcher := newTestRouter(t)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[{"from":"A","id":"m1","type":"text","text":{"body":"hi"}}]}}]}]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(dispatcher.calls) != 1 || len(dispatcher.calls[0]) != 1 || dispatcher.calls[0][0].From != "A" {
		t.Fatalf("unexpected dispatch calls: %+v", dispatcher.calls)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `relay_whatsapp_inbound_webhook_total{status="success"} 1`) {
		t.Fatalf("expected inbound counter in metrics output:\n%s", rr.Body.String())
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/webhook", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
