package trust

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/money"
)

// Policy is an operator-configured trust policy, applied per wallet or
// as the client-wide default.
type Policy struct {
	PolicyID string `json:"policy_id" yaml:"policy_id"`
	Name     string `json:"name" yaml:"name"`

	IdentityRequired bool `json:"identity_required" yaml:"identity_required"`

	MinWTS           int `json:"min_wts" yaml:"min_wts"`
	MinFeedbackCount int `json:"min_feedback_count" yaml:"min_feedback_count"`

	RequireAttestations []string `json:"require_attestations,omitempty" yaml:"require_attestations"`

	OrgWhitelist     []string `json:"org_whitelist,omitempty" yaml:"org_whitelist"`
	AddressBlocklist []string `json:"address_blocklist,omitempty" yaml:"address_blocklist"`

	NewAgentAction     Verdict `json:"new_agent_action" yaml:"new_agent_action"`
	FraudTagAction     Verdict `json:"fraud_tag_action" yaml:"fraud_tag_action"`
	UnresolvableAction Verdict `json:"unresolvable_action" yaml:"unresolvable_action"`

	HighValueThreshold money.Amount `json:"high_value_threshold" yaml:"high_value_threshold"`
	HighValueMinWTS    int          `json:"high_value_min_wts" yaml:"high_value_min_wts"`
}

// PermissivePolicy passes everything and blocks only known fraud.
func PermissivePolicy() Policy {
	return Policy{
		PolicyID:           "preset_permissive",
		Name:               "Permissive",
		NewAgentAction:     VerdictApproved,
		FraudTagAction:     VerdictBlocked,
		UnresolvableAction: VerdictApproved,
	}
}

// StandardPolicy holds new and unverified agents for review.
func StandardPolicy() Policy {
	return Policy{
		PolicyID:           "preset_standard",
		Name:               "Standard",
		IdentityRequired:   true,
		MinWTS:             50,
		MinFeedbackCount:   3,
		NewAgentAction:     VerdictHeld,
		FraudTagAction:     VerdictBlocked,
		UnresolvableAction: VerdictHeld,
		HighValueThreshold: money.MustFromMajor("500"),
		HighValueMinWTS:    75,
	}
}

// StrictPolicy requires registered identity, high reputation, and a KYB
// attestation.
func StrictPolicy() Policy {
	return Policy{
		PolicyID:            "preset_strict",
		Name:                "Strict",
		IdentityRequired:    true,
		MinWTS:              70,
		MinFeedbackCount:    3,
		RequireAttestations: []string{"kyb"},
		NewAgentAction:      VerdictHeld,
		FraudTagAction:      VerdictBlocked,
		UnresolvableAction:  VerdictHeld,
		HighValueThreshold:  money.MustFromMajor("500"),
		HighValueMinWTS:     85,
	}
}

// PolicyByName resolves a preset by name. Unknown names fall back to
// the permissive preset.
func PolicyByName(name string) Policy {
	switch strings.ToLower(name) {
	case "standard":
		return StandardPolicy()
	case "strict":
		return StrictPolicy()
	default:
		return PermissivePolicy()
	}
}

// Engine evaluates a policy against resolved identity and reputation.
// Checks run in strict order; the first failing check decides.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a policy engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "trust_policy").Logger()}
}

// Evaluate runs every policy check and returns the verdict. identity
// and reputation may be nil when the recipient has no on-chain
// presence.
func (e *Engine) Evaluate(identity *AgentIdentity, reputation *ReputationScore, amount money.Amount, recipient string, policy Policy) *CheckResult {
	result := &CheckResult{
		IdentityFound: identity != nil,
		PolicyID:      policy.PolicyID,
		NewAgent:      reputation == nil,
		Verdict:       VerdictApproved,
	}
	if identity != nil {
		result.TokenID = identity.AgentID
		result.Organization = identity.Organization
		result.Attestations = append([]string(nil), identity.Attestations...)
	}
	if reputation != nil {
		wts := reputation.WTS
		result.WTS = &wts
		result.SampleSize = reputation.SampleSize
		result.NewAgent = reputation.NewAgent
		result.Flags = append([]string(nil), reputation.Flags...)
	}

	// Blocklisted addresses are refused before anything else.
	if containsFold(policy.AddressBlocklist, recipient) {
		result.Verdict = VerdictBlocked
		result.BlockReason = "ADDRESS_BLOCKLISTED"
		result.Flags = append(result.Flags, "blocklisted")
		e.log.Info().Str("recipient", recipient).Msg("trust blocked: address blocklisted")
		return result
	}

	// A whitelisted organization skips the remaining checks.
	if identity != nil && identity.Organization != "" && containsFold(policy.OrgWhitelist, identity.Organization) {
		result.Verdict = VerdictApproved
		return result
	}

	if policy.IdentityRequired && identity == nil {
		result.Verdict = VerdictBlocked
		result.BlockReason = "NO_IDENTITY"
		result.Flags = append(result.Flags, "no_identity")
		e.log.Info().Str("recipient", recipient).Msg("trust blocked: no on-chain identity")
		return result
	}

	if reputation != nil && hasFlag(reputation.Flags, "fraud") {
		result.Verdict = policy.FraudTagAction
		result.BlockReason = "FRAUD_TAG"
		e.log.Warn().Str("recipient", recipient).Str("verdict", string(policy.FraudTagAction)).Msg("fraud tag on recipient")
		return result
	}

	// An agent with identity but no reputation data counts as new.
	isNew := (reputation != nil && reputation.NewAgent) || (identity != nil && reputation == nil)
	if isNew && policy.NewAgentAction != VerdictApproved {
		result.Verdict = policy.NewAgentAction
		result.BlockReason = "NEW_AGENT"
		return result
	}

	sample := 0
	if reputation != nil {
		sample = reputation.SampleSize
	}
	if policy.MinFeedbackCount > 0 && sample < policy.MinFeedbackCount {
		result.Verdict = VerdictHeld
		result.BlockReason = "INSUFFICIENT_FEEDBACK"
		return result
	}

	wts := 0
	if reputation != nil {
		wts = reputation.WTS
	}
	if policy.MinWTS > 0 && wts < policy.MinWTS {
		result.Verdict = VerdictBlocked
		result.BlockReason = "LOW_WTS"
		result.Flags = append(result.Flags, "low_wts")
		e.log.Info().Int("wts", wts).Int("min_wts", policy.MinWTS).Msg("trust blocked: low score")
		return result
	}

	if policy.HighValueThreshold.IsPositive() && !amount.LessThan(policy.HighValueThreshold) && wts < policy.HighValueMinWTS {
		result.Verdict = VerdictHeld
		result.BlockReason = "HIGH_VALUE_WTS_FAIL"
		return result
	}

	if len(policy.RequireAttestations) > 0 {
		missing := missingAttestations(policy.RequireAttestations, result.Attestations)
		if len(missing) > 0 {
			result.Verdict = VerdictHeld
			result.BlockReason = "MISSING_ATTESTATIONS:" + strings.Join(missing, ",")
			return result
		}
	}

	return result
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func missingAttestations(required, held []string) []string {
	var missing []string
	for _, want := range required {
		if !containsFold(held, want) {
			missing = append(missing, want)
		}
	}
	sort.Strings(missing)
	return missing
}
