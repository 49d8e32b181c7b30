// Package x402 implements the payer side of the HTTP 402 payment
// protocol: parsing payment requirements out of a 402 response and
// encoding the settlement proof sent on the retry request.
// Reference: https://github.com/coinbase/x402
package x402

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentpay/agentpay-go/internal/money"
)

// Requirements describes what a resource server demands before it will
// serve a protected resource. MaxAmountRequired is expressed in the
// token's smallest units.
type Requirements struct {
	Scheme            string
	Network           string
	MaxAmountRequired string
	Resource          string
	Description       string
	Recipient         string
	MaxTimeoutSeconds int
	Extra             map[string]any
}

// ParseRequirements reads requirements from a 402 response body. The V2
// wire format is a JSON object, optionally wrapped in a "requirements"
// envelope. fallbackResource fills Resource when the body omits it.
func ParseRequirements(body []byte, fallbackResource string) (*Requirements, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("x402: parse requirements body: %w", err)
	}
	if inner, ok := raw["requirements"].(map[string]any); ok {
		raw = inner
	}

	req := &Requirements{
		Scheme:            stringField(raw, "scheme"),
		Network:           stringField(raw, "network"),
		MaxAmountRequired: stringField(raw, "maxAmountRequired"),
		Resource:          stringField(raw, "resource"),
		Description:       stringField(raw, "description"),
		Recipient:         stringField(raw, "paymentAddress"),
	}
	if req.Scheme == "" {
		req.Scheme = "exact"
	}
	if req.MaxAmountRequired == "" {
		req.MaxAmountRequired = stringField(raw, "amount")
	}
	if req.Recipient == "" {
		req.Recipient = stringField(raw, "recipient")
	}
	if req.Resource == "" {
		req.Resource = fallbackResource
	}
	if extra, ok := raw["extra"].(map[string]any); ok {
		req.Extra = extra
	}
	if v, ok := raw["maxTimeoutSeconds"].(json.Number); ok {
		if n, err := v.Int64(); err == nil && n > 0 {
			req.MaxTimeoutSeconds = int(n)
		}
	}
	if req.Network == "" && req.Recipient == "" && req.MaxAmountRequired == "" {
		return nil, errors.New("x402: response body carries no payment requirements")
	}
	return req, nil
}

// ParseRequirementsHeader reads the base64-encoded V1 header format.
func ParseRequirementsHeader(header string) (*Requirements, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("x402: decode requirements header: %w", err)
	}
	return ParseRequirements(decoded, "")
}

// Amount converts MaxAmountRequired to USDC. Integer values are treated
// as smallest units; anything else is read as a major-unit decimal.
func (r *Requirements) Amount() (money.Amount, error) {
	if r.MaxAmountRequired == "" {
		return money.Amount{}, errors.New("x402: requirements carry no amount")
	}
	if a, err := money.ParseAtomic(r.MaxAmountRequired); err == nil {
		return a, nil
	}
	return money.FromMajor(r.MaxAmountRequired)
}

func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Proof carries the on-chain settlement evidence inside a Payload.
type Proof struct {
	TransactionHash string `json:"transactionHash"`
	FromAddress     string `json:"fromAddress"`
	ToAddress       string `json:"toAddress"`
	Amount          string `json:"amount"`
}

// Payload is the V2 payment payload sent in the PAYMENT-SIGNATURE
// header after settling on chain.
type Payload struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	Payload     Proof  `json:"payload"`
	Resource    string `json:"resource"`
}

// NewPayload builds a V2 payload for a settled payment.
func NewPayload(requirements *Requirements, proof Proof, resource string) Payload {
	return Payload{
		X402Version: 2,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     proof,
		Resource:    resource,
	}
}

// Header encodes the payload as a base64 JSON header value.
func (p Payload) Header() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("x402: encode payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
