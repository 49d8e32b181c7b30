package guards

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
)

// Recipient guard modes.
const (
	ModeWhitelist = "whitelist"
	ModeBlacklist = "blacklist"
)

// RecipientRules define who may receive payments. Addresses match
// exactly (case-insensitive), domains by substring for URL recipients,
// patterns as case-insensitive regular expressions.
type RecipientRules struct {
	Mode      string
	Addresses []string
	Domains   []string
	Patterns  []string
}

// RecipientGuard allows or blocks recipients by rule list. Whitelist
// mode requires a match; blacklist mode requires no match.
type RecipientGuard struct {
	name      string
	mode      string
	addresses map[string]struct{}
	domains   []string
	patterns  []*regexp.Regexp
}

// NewRecipientGuard creates a recipient guard.
func NewRecipientGuard(rules RecipientRules, name string) (*RecipientGuard, error) {
	if rules.Mode != ModeWhitelist && rules.Mode != ModeBlacklist {
		return nil, apperrors.Newf(apperrors.ErrCodeConfig,
			"recipient guard mode must be %q or %q", ModeWhitelist, ModeBlacklist)
	}
	if name == "" {
		name = "recipient"
	}

	g := &RecipientGuard{
		name:      name,
		mode:      rules.Mode,
		addresses: make(map[string]struct{}, len(rules.Addresses)),
	}
	for _, addr := range rules.Addresses {
		g.addresses[strings.ToLower(addr)] = struct{}{}
	}
	for _, domain := range rules.Domains {
		g.domains = append(g.domains, strings.ToLower(domain))
	}
	for _, pattern := range rules.Patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeConfig, "compile recipient pattern", err).
				WithDetail("pattern", pattern)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

func (g *RecipientGuard) Name() string { return g.name }

// Mode reports whether the guard is a whitelist or blacklist.
func (g *RecipientGuard) Mode() string { return g.mode }

func (g *RecipientGuard) matches(recipient string) bool {
	lower := strings.ToLower(recipient)
	if _, ok := g.addresses[lower]; ok {
		return true
	}
	for _, domain := range g.domains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	for _, re := range g.patterns {
		if re.MatchString(recipient) {
			return true
		}
	}
	return false
}

func (g *RecipientGuard) Check(ctx context.Context, pc PaymentContext) (GuardResult, error) {
	matched := g.matches(pc.Recipient)
	metadata := map[string]any{"mode": g.mode, "matched": matched}

	if g.mode == ModeWhitelist {
		if matched {
			return allow(g.name, metadata), nil
		}
		return deny(g.name, fmt.Sprintf("recipient %s not in whitelist", pc.Recipient), metadata), nil
	}
	if matched {
		return deny(g.name, fmt.Sprintf("recipient %s is blacklisted", pc.Recipient), metadata), nil
	}
	return allow(g.name, metadata), nil
}

func (g *RecipientGuard) Reserve(ctx context.Context, pc PaymentContext) (string, error) {
	return reserveStateless(ctx, g, pc)
}

func (g *RecipientGuard) Commit(ctx context.Context, token string) error  { return nil }
func (g *RecipientGuard) Release(ctx context.Context, token string) error { return nil }
func (g *RecipientGuard) Reset()                                          {}
