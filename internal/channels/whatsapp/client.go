package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultGraphAPIBase is the versioned Graph API root used for sends.
	DefaultGraphAPIBase = "https://graph.facebook.com/v18.0"
	messagingProduct    = "whatsapp"
)

var sendTracer = otel.Tracer("relay.internal.channels.whatsapp")

// Client sends messages via the WhatsApp Cloud (Graph) API.
type Client struct {
	accessToken   string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
}

// NewClient creates a Graph API client for the given business phone number.
// A zero timeout leaves the HTTP client without a deadline.
func NewClient(accessToken, phoneNumberID string, timeout time.Duration) *Client {
	return &Client{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		graphAPIBase:  DefaultGraphAPIBase,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// SetGraphAPIBase overrides the Graph API base URL (useful for testing).
func (c *Client) SetGraphAPIBase(base string) {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		c.graphAPIBase = base
	}
}

// SendText sends a plain text message and returns the parsed provider response.
// Only transport failures and bodies that are not JSON are returned as errors;
// a Graph API rejection comes back as a response whose Rejection is non-nil.
func (c *Client) SendText(ctx context.Context, reply OutboundReply) (*SendResponse, error) {
	if reply.To == "" {
		return nil, errors.New("whatsapp: recipient required")
	}

	ctx, span := sendTracer.Start(ctx, "whatsapp.send_text", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("whatsapp.to", reply.To),
		attribute.String("whatsapp.phone_number_id", c.phoneNumberID),
	)

	resp, err := c.send(ctx, SendRequest{
		MessagingProduct: messagingProduct,
		To:               reply.To,
		Text:             SendText{Body: reply.Body},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if rejection := resp.Rejection(); rejection != nil {
		span.RecordError(rejection)
		span.SetStatus(codes.Error, rejection.Error())
		return resp, nil
	}
	span.SetAttributes(attribute.String("whatsapp.message_id", resp.MessageID()))
	return resp, nil
}

func (c *Client) send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response: %w", err)
	}

	var sendResp SendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return nil, fmt.Errorf("whatsapp: unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	sendResp.StatusCode = resp.StatusCode

	return &sendResp, nil
}
