// Package webhooks turns provider notification callbacks into typed
// events. The parser is transport-agnostic; the listener in this
// package is one possible HTTP front for it.
package webhooks

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
)

// SignatureHeader carries the provider's Ed25519 payload signature.
const SignatureHeader = "x-circle-signature"

// EventType classifies a webhook notification.
type EventType string

const (
	EventPaymentCompleted EventType = "PAYMENT_COMPLETED"
	EventPaymentFailed    EventType = "PAYMENT_FAILED"
	EventPaymentCanceled  EventType = "PAYMENT_CANCELED"
	EventUnknown          EventType = "UNKNOWN"
)

// Event is a parsed webhook notification.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
	Raw       map[string]any
}

// Parser verifies and decodes webhook payloads. With no verification
// key configured, signatures are not checked.
type Parser struct {
	key ed25519.PublicKey
	now func() time.Time
}

// NewParser builds a parser. verificationKey accepts a PEM block, raw
// hex, or base64; empty disables verification.
func NewParser(verificationKey string) (*Parser, error) {
	p := &Parser{now: time.Now}
	if verificationKey == "" {
		return p, nil
	}
	key, err := parsePublicKey(verificationKey)
	if err != nil {
		return nil, err
	}
	p.key = key
	return p, nil
}

func parsePublicKey(raw string) (ed25519.PublicKey, error) {
	if strings.Contains(raw, "-----BEGIN") {
		block, _ := pem.Decode([]byte(raw))
		if block == nil {
			return nil, apperrors.New(apperrors.ErrCodeConfig, "unparseable PEM verification key")
		}
		// PKIX SubjectPublicKeyInfo for Ed25519 is a fixed 12-byte
		// prefix followed by the 32 key bytes.
		if len(block.Bytes) == ed25519.PublicKeySize+12 {
			return ed25519.PublicKey(block.Bytes[12:]), nil
		}
		if len(block.Bytes) == ed25519.PublicKeySize {
			return ed25519.PublicKey(block.Bytes), nil
		}
		return nil, apperrors.New(apperrors.ErrCodeConfig, "PEM key is not an Ed25519 public key")
	}
	if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) == ed25519.PublicKeySize {
		return ed25519.PublicKey(decoded), nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == ed25519.PublicKeySize {
		return ed25519.PublicKey(decoded), nil
	}
	return nil, apperrors.New(apperrors.ErrCodeConfig,
		"verification key is neither PEM, hex, nor base64 Ed25519")
}

// Verify checks the payload signature against the configured key.
func (p *Parser) Verify(payload []byte, headers http.Header) error {
	if p.key == nil {
		return nil
	}
	signature := headers.Get(SignatureHeader)
	if signature == "" {
		return apperrors.New(apperrors.ErrCodeInvalidSignature, "missing "+SignatureHeader+" header")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidSignature, "signature is not base64", err)
	}
	if !ed25519.Verify(p.key, payload, sigBytes) {
		return apperrors.New(apperrors.ErrCodeInvalidSignature, "signature mismatch")
	}
	return nil
}

// Parse verifies and decodes a raw webhook payload into an Event.
func (p *Parser) Parse(payload []byte, headers http.Header) (*Event, error) {
	if err := p.Verify(payload, headers); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeValidation, "invalid JSON payload", err)
	}
	return p.FromDecoded(raw)
}

// FromDecoded maps an already-decoded payload into an Event, skipping
// signature verification.
func (p *Parser) FromDecoded(raw map[string]any) (*Event, error) {
	notificationType, _ := raw["notificationType"].(string)
	if notificationType == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "missing notificationType in payload")
	}

	event := &Event{
		Type:      classify(notificationType),
		Timestamp: p.now().UTC(),
		Raw:       raw,
	}
	if id, ok := raw["notificationId"].(string); ok && id != "" {
		event.ID = id
	} else {
		event.ID = "unknown"
	}
	if data, ok := raw["notification"].(map[string]any); ok {
		event.Data = data
	} else {
		event.Data = map[string]any{}
	}
	if custom, ok := raw["customDate"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, custom); err == nil {
			event.Timestamp = ts
		}
	}
	return event, nil
}

func classify(notificationType string) EventType {
	lower := strings.ToLower(notificationType)
	switch {
	case strings.Contains(lower, "payment_completed"):
		return EventPaymentCompleted
	case strings.Contains(lower, "payment_failed"):
		return EventPaymentFailed
	case strings.Contains(lower, "payment_canceled"):
		return EventPaymentCanceled
	default:
		return EventUnknown
	}
}
