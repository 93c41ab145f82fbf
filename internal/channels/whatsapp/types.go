package whatsapp

import (
	"fmt"
	"time"
)

// ObjectBusinessAccount is the webhook "object" value for WhatsApp Business events.
const ObjectBusinessAccount = "whatsapp_business_account"

// WebhookEvent is the top-level structure received from Meta's WhatsApp webhook.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry represents one business account entry.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change wraps a single change notification.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds the message data for a change.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata describes the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the WhatsApp profile of a sender.
type Contact struct {
	Profile ContactProfile `json:"profile"`
	WaID    string         `json:"wa_id"`
}

// ContactProfile has the display name.
type ContactProfile struct {
	Name string `json:"name"`
}

// Message is a single inbound WhatsApp message. Text is nil for non-text
// message types (image, audio, reaction, ...).
type Message struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp"`
	Type      string       `json:"type"`
	Text      *TextContent `json:"text,omitempty"`
}

// TextContent holds the body of a text message.
type TextContent struct {
	Body string `json:"body"`
}

// Status is a delivery/read receipt for a message previously sent by the business.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// InboundMessage is the normalized result of extracting a text message from a
// webhook event.
type InboundMessage struct {
	From          string
	Text          string
	MessageID     string
	Type          string
	Timestamp     time.Time
	PhoneNumberID string
}

// OutboundReply is a text reply addressed to a WhatsApp user.
type OutboundReply struct {
	To   string
	Body string
}

// SendRequest is the payload posted to the Graph API messages endpoint.
type SendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Text             SendText `json:"text"`
}

// SendText is the text body of an outbound message.
type SendText struct {
	Body string `json:"body"`
}

// SendResponse is the response from the Graph API after sending a message.
// StatusCode is the HTTP status the body arrived with.
type SendResponse struct {
	MessagingProduct string        `json:"messaging_product,omitempty"`
	Contacts         []SendContact `json:"contacts,omitempty"`
	Messages         []SentMessage `json:"messages,omitempty"`
	Error            *SendError    `json:"error,omitempty"`
	StatusCode       int           `json:"-"`
}

// SendContact echoes the recipient as resolved by WhatsApp.
type SendContact struct {
	Input string `json:"input"`
	WaID  string `json:"wa_id"`
}

// SentMessage carries the id WhatsApp assigned to an outbound message.
type SentMessage struct {
	ID string `json:"id"`
}

// SendError represents an error returned by the Graph API.
type SendError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

// MessageID returns the id of the first sent message, if any.
func (r *SendResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// Rejection describes why the Graph API declined the send, or returns nil when
// the message was accepted.
func (r *SendResponse) Rejection() error {
	if r == nil {
		return nil
	}
	if r.Error != nil {
		return fmt.Errorf("whatsapp: API error %d: %s", r.Error.Code, r.Error.Message)
	}
	if r.StatusCode != 0 && (r.StatusCode < 200 || r.StatusCode >= 300) {
		return fmt.Errorf("whatsapp: unexpected status %d", r.StatusCode)
	}
	return nil
}
