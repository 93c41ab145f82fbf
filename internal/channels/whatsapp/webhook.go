package whatsapp

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"
)

// ModeSubscribe is the hub.mode value Meta sends during the verification handshake.
const ModeSubscribe = "subscribe"

// Verify checks a webhook verification handshake. It returns the challenge and
// true when mode is "subscribe" and token matches verifyToken. An empty
// verifyToken never matches.
func Verify(mode, token, challenge, verifyToken string) (string, bool) {
	if verifyToken == "" {
		return "", false
	}
	if mode != ModeSubscribe || !hmac.Equal([]byte(token), []byte(verifyToken)) {
		return "", false
	}
	return challenge, true
}

// ExtractMessages returns the text messages carried by a raw webhook body.
// Keys are matched exactly. It never fails: malformed JSON, unexpected types
// and missing keys all yield fewer (possibly zero) messages, and a malformed
// message does not hide its well-shaped siblings.
func ExtractMessages(body []byte) []InboundMessage {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}
	return walkRaw(raw)
}

// ParseWebhookEvent extracts InboundMessages from a decoded webhook event.
// Messages without a sender or a text body are skipped.
func ParseWebhookEvent(event WebhookEvent) []InboundMessage {
	if event.Object != ObjectBusinessAccount {
		return nil
	}

	var messages []InboundMessage
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				if m.From == "" || m.Text == nil || m.Text.Body == "" {
					continue
				}
				messages = append(messages, InboundMessage{
					From:          m.From,
					Text:          m.Text.Body,
					MessageID:     m.ID,
					Type:          m.Type,
					Timestamp:     parseUnixSeconds(m.Timestamp),
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
				})
			}
		}
	}
	return messages
}

func walkRaw(root any) []InboundMessage {
	obj := asMap(root)
	if asString(obj["object"]) != ObjectBusinessAccount {
		return nil
	}

	var messages []InboundMessage
	for _, entry := range asSlice(obj["entry"]) {
		for _, change := range asSlice(asMap(entry)["changes"]) {
			value := asMap(asMap(change)["value"])
			phoneNumberID := asString(asMap(value["metadata"])["phone_number_id"])
			for _, item := range asSlice(value["messages"]) {
				m := asMap(item)
				from := asID(m["from"])
				body := asString(asMap(m["text"])["body"])
				if from == "" || body == "" {
					continue
				}
				messages = append(messages, InboundMessage{
					From:          from,
					Text:          body,
					MessageID:     asString(m["id"]),
					Type:          asString(m["type"]),
					Timestamp:     parseUnixSeconds(asID(m["timestamp"])),
					PhoneNumberID: phoneNumberID,
				})
			}
		}
	}
	return messages
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asID accepts ids sent either as strings or as bare JSON integers.
func asID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		if _, err := id.Int64(); err == nil {
			return id.String()
		}
	}
	return ""
}

func parseUnixSeconds(s string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// VerifySignature verifies the X-Hub-Signature-256 header against the raw body.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}

	// Signature format: "sha256=<hex>"
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sigHex)))
}
