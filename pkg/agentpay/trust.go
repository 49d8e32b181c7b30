package agentpay

import (
	"context"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/trust"
)

// TrustLookup evaluates an address against the default trust policy
// without making a payment.
func (c *Client) TrustLookup(ctx context.Context, address string) (*trust.CheckResult, error) {
	if c.Trust == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "trust gate is not enabled")
	}
	return c.Trust.Lookup(ctx, address)
}

// SetTrustPolicy overrides the trust policy for one wallet.
func (c *Client) SetTrustPolicy(walletID string, policy trust.Policy) error {
	if c.Trust == nil {
		return apperrors.New(apperrors.ErrCodeConfig, "trust gate is not enabled")
	}
	c.Trust.SetPolicy(walletID, policy)
	return nil
}

// SetDefaultTrustPolicy replaces the policy used when a wallet has no
// override. Accepts the presets by name: permissive, standard, strict.
func (c *Client) SetDefaultTrustPolicy(name string) error {
	if c.Trust == nil {
		return apperrors.New(apperrors.ErrCodeConfig, "trust gate is not enabled")
	}
	c.Trust.SetDefaultPolicy(trust.PolicyByName(name))
	return nil
}
