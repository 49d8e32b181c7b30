// Package trust implements ERC-8004 recipient screening: identity
// resolution against the on-chain Identity Registry, weighted trust
// scoring over Reputation Registry feedback, and a policy engine that
// turns both into an approve, hold, or block verdict before any funds
// move.
package trust

import (
	"math"
	"strings"
	"time"
)

// Verdict is the outcome of a trust evaluation.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictBlocked  Verdict = "BLOCKED"
	VerdictHeld     Verdict = "HELD"
)

// registrationType is the registration file type URI mandated by
// EIP-8004. Files with other types are accepted with a warning.
const registrationType = "https://eips.ethereum.org/EIPS/eip-8004#registration-v1"

// AgentService is one service endpoint advertised in an agent's
// registration file, such as an A2A or MCP endpoint.
type AgentService struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Version  string `json:"version,omitempty"`
}

// AgentIdentity is a resolved ERC-8004 identity: the on-chain ERC-721
// token plus the off-chain registration file fetched from its agentURI.
type AgentIdentity struct {
	AgentID       uint64 `json:"agent_id"`
	WalletAddress string `json:"wallet_address"`
	AgentWallet   string `json:"agent_wallet,omitempty"`
	AgentRegistry string `json:"agent_registry,omitempty"`

	RegistrationType string         `json:"registration_type,omitempty"`
	Name             string         `json:"name,omitempty"`
	Description      string         `json:"description,omitempty"`
	Organization     string         `json:"organization,omitempty"`
	Services         []AgentService `json:"services,omitempty"`
	X402Support      bool           `json:"x402_support,omitempty"`
	Active           bool           `json:"active"`
	SupportedTrust   []string       `json:"supported_trust,omitempty"`
	Attestations     []string       `json:"attestations,omitempty"`
}

// HasService reports whether the agent advertises a service by name,
// case-insensitively.
func (a *AgentIdentity) HasService(name string) bool {
	for _, s := range a.Services {
		if strings.EqualFold(s.Name, name) {
			return true
		}
	}
	return false
}

// registrationFile mirrors the JSON layout of an EIP-8004 agent
// registration file.
type registrationFile struct {
	Type           string         `json:"type"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Organization   string         `json:"organization"`
	Services       []AgentService `json:"services"`
	X402Support    bool           `json:"x402Support"`
	Active         *bool          `json:"active"`
	SupportedTrust []string       `json:"supportedTrust"`
	Attestations   []string       `json:"attestations"`
	Registrations  []struct {
		AgentID       uint64 `json:"agentId"`
		AgentRegistry string `json:"agentRegistry"`
	} `json:"registrations"`
}

// FeedbackSignal is one feedback entry read from the Reputation
// Registry. Value is the raw int128 and may be negative.
type FeedbackSignal struct {
	AgentID       uint64 `json:"agent_id"`
	ClientAddress string `json:"client_address"`
	FeedbackIndex uint64 `json:"feedback_index"`
	Value         int64  `json:"value"`
	ValueDecimals uint8  `json:"value_decimals"`
	Tag1          string `json:"tag1,omitempty"`
	Tag2          string `json:"tag2,omitempty"`
	IsRevoked     bool   `json:"is_revoked,omitempty"`
}

// NormalizedScore scales the raw value by its decimals.
func (s FeedbackSignal) NormalizedScore() float64 {
	if s.ValueDecimals == 0 {
		return float64(s.Value)
	}
	return float64(s.Value) / math.Pow10(int(s.ValueDecimals))
}

// ReputationScore is the weighted trust score computed from feedback
// signals, with its breakdown.
type ReputationScore struct {
	WTS        int      `json:"wts"`
	SampleSize int      `json:"sample_size"`
	NewAgent   bool     `json:"new_agent"`
	Flags      []string `json:"flags,omitempty"`

	TotalFeedbackCount     int `json:"total_feedback_count"`
	RevokedCount           int `json:"revoked_count"`
	SelfReviewCount        int `json:"self_review_count"`
	VerifiedSubmitterCount int `json:"verified_submitter_count"`
}

// CheckResult is the full outcome of a trust evaluation, attached to
// payment and simulation results when a policy is active.
type CheckResult struct {
	IdentityFound bool   `json:"identity_found"`
	TokenID       uint64 `json:"token_id,omitempty"`
	Organization  string `json:"organization,omitempty"`

	WTS          *int     `json:"wts,omitempty"`
	SampleSize   int      `json:"sample_size"`
	NewAgent     bool     `json:"new_agent"`
	Flags        []string `json:"flags,omitempty"`
	Attestations []string `json:"attestations,omitempty"`

	PolicyID    string  `json:"policy_id,omitempty"`
	Verdict     Verdict `json:"verdict"`
	BlockReason string  `json:"block_reason,omitempty"`

	CheckLatencyMS int64      `json:"check_latency_ms"`
	CacheHit       bool       `json:"cache_hit"`
	CheckedAt      *time.Time `json:"checked_at,omitempty"`
}
