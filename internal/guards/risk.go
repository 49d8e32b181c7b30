package guards

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
)

// Risk actions by composite score band.
const (
	RiskActionAllow = "ALLOW"
	RiskActionFlag  = "FLAG"
	RiskActionBlock = "BLOCK"
)

// TrustWTSKey is the PaymentContext metadata key carrying the
// counterparty's weighted trust score, when trust evaluation ran.
const TrustWTSKey = "trust_wts"

// OperatorConfirmedKey marks payments an operator already reviewed and
// approved. The FLAG band passes for these instead of holding the same
// payment again; BLOCK still applies.
const OperatorConfirmedKey = "operator_confirmed"

// RiskFactor scores one dimension of a payment between 0 (no risk) and
// 1 (high risk).
type RiskFactor interface {
	Name() string
	Weight() float64
	Evaluate(ctx context.Context, pc PaymentContext) (float64, error)
}

// LedgerReader is the payment history access risk factors need.
type LedgerReader interface {
	HasPaidRecipient(ctx context.Context, walletID, recipient string) (bool, error)
	CountSince(ctx context.Context, walletID string, window time.Duration) (int, error)
}

// AmountFactor scores by payment size, interpolating linearly between a
// low threshold (score 0) and a high threshold (score 1).
type AmountFactor struct {
	weight float64
	low    money.Amount
	high   money.Amount
}

// NewAmountFactor creates an amount factor. Zero thresholds default to
// 100 and 1000 USDC.
func NewAmountFactor(weight float64, low, high money.Amount) *AmountFactor {
	if low.IsZero() {
		low = money.MustFromMajor("100")
	}
	if high.IsZero() {
		high = money.MustFromMajor("1000")
	}
	return &AmountFactor{weight: weight, low: low, high: high}
}

func (f *AmountFactor) Name() string    { return "amount" }
func (f *AmountFactor) Weight() float64 { return f.weight }

func (f *AmountFactor) Evaluate(ctx context.Context, pc PaymentContext) (float64, error) {
	if !pc.Amount.GreaterThan(f.low) {
		return 0, nil
	}
	if !pc.Amount.LessThan(f.high) {
		return 1, nil
	}
	span := f.high.Atomic - f.low.Atomic
	return float64(pc.Amount.Atomic-f.low.Atomic) / float64(span), nil
}

// NewRecipientFactor scores 1 for recipients the wallet has never paid
// and 0 for known ones.
type NewRecipientFactor struct {
	weight float64
	ledger LedgerReader
}

// NewNewRecipientFactor creates a first-time recipient factor.
func NewNewRecipientFactor(weight float64, ledger LedgerReader) *NewRecipientFactor {
	return &NewRecipientFactor{weight: weight, ledger: ledger}
}

func (f *NewRecipientFactor) Name() string    { return "new_recipient" }
func (f *NewRecipientFactor) Weight() float64 { return f.weight }

func (f *NewRecipientFactor) Evaluate(ctx context.Context, pc PaymentContext) (float64, error) {
	if f.ledger == nil {
		return 0.5, nil
	}
	known, err := f.ledger.HasPaidRecipient(ctx, pc.WalletID, pc.Recipient)
	if err != nil {
		return 0, err
	}
	if known {
		return 0, nil
	}
	return 1, nil
}

// VelocityFactor scores by how far recent payment frequency exceeds the
// expected maximum inside a sliding window.
type VelocityFactor struct {
	weight   float64
	window   time.Duration
	maxCount int
	ledger   LedgerReader
}

// NewVelocityFactor creates a velocity factor. Zero window and count
// default to one hour and 10 payments.
func NewVelocityFactor(weight float64, window time.Duration, maxCount int, ledger LedgerReader) *VelocityFactor {
	if window <= 0 {
		window = time.Hour
	}
	if maxCount <= 0 {
		maxCount = 10
	}
	return &VelocityFactor{weight: weight, window: window, maxCount: maxCount, ledger: ledger}
}

func (f *VelocityFactor) Name() string    { return "velocity" }
func (f *VelocityFactor) Weight() float64 { return f.weight }

func (f *VelocityFactor) Evaluate(ctx context.Context, pc PaymentContext) (float64, error) {
	if f.ledger == nil {
		return 0.5, nil
	}
	count, err := f.ledger.CountSince(ctx, pc.WalletID, f.window)
	if err != nil {
		return 0, err
	}
	if count <= f.maxCount {
		return 0, nil
	}
	excess := float64(count-f.maxCount) / float64(f.maxCount)
	if excess > 1 {
		excess = 1
	}
	return excess, nil
}

// RiskGuard aggregates weighted risk factors into a 0-100 score and maps
// score bands to actions: below the low threshold ALLOW, between the
// thresholds FLAG (the payment should be held for confirmation), at or
// above the high threshold BLOCK.
//
// When the payment context carries a counterparty trust score, the
// thresholds shift: high trust (WTS >= 80) relaxes both by 10 points,
// low trust (WTS <= 20) drops the high threshold by 20 and the low by
// 10.
type RiskGuard struct {
	name          string
	factors       []RiskFactor
	lowThreshold  float64
	highThreshold float64
}

// NewRiskGuard creates a risk guard. Zero thresholds default to 20/80.
func NewRiskGuard(name string, low, high float64, factors ...RiskFactor) *RiskGuard {
	if name == "" {
		name = "risk_engine"
	}
	if low <= 0 {
		low = 20
	}
	if high <= 0 {
		high = 80
	}
	return &RiskGuard{name: name, factors: factors, lowThreshold: low, highThreshold: high}
}

func (g *RiskGuard) Name() string { return g.name }

// AddFactor appends a risk factor.
func (g *RiskGuard) AddFactor(f RiskFactor) {
	g.factors = append(g.factors, f)
}

func (g *RiskGuard) thresholds(pc PaymentContext) (low, high float64) {
	low, high = g.lowThreshold, g.highThreshold
	wts, ok := trustWTS(pc)
	if !ok {
		return low, high
	}
	switch {
	case wts >= 80:
		low += 10
		high += 10
	case wts <= 20:
		low -= 10
		high -= 20
	}
	return low, high
}

func operatorConfirmed(pc PaymentContext) bool {
	if pc.Metadata == nil {
		return false
	}
	v, ok := pc.Metadata[OperatorConfirmedKey].(bool)
	return ok && v
}

func trustWTS(pc PaymentContext) (float64, bool) {
	if pc.Metadata == nil {
		return 0, false
	}
	switch v := pc.Metadata[TrustWTSKey].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func (g *RiskGuard) score(ctx context.Context, pc PaymentContext) (float64, map[string]float64, error) {
	var totalScore, totalWeight float64
	factorScores := make(map[string]float64, len(g.factors))

	for _, f := range g.factors {
		raw, err := f.Evaluate(ctx, pc)
		if err != nil {
			return 0, nil, err
		}
		totalScore += raw * f.Weight()
		totalWeight += f.Weight()
		factorScores[f.Name()] = raw
	}

	if totalWeight == 0 {
		return 0, factorScores, nil
	}
	return totalScore / totalWeight * 100, factorScores, nil
}

func (g *RiskGuard) Check(ctx context.Context, pc PaymentContext) (GuardResult, error) {
	score, factorScores, err := g.score(ctx, pc)
	if err != nil {
		return GuardResult{}, err
	}
	low, high := g.thresholds(pc)

	metadata := map[string]any{
		"risk_score":   score,
		"risk_factors": factorScores,
		"thresholds":   map[string]float64{"low": low, "high": high},
	}

	switch {
	case score >= high:
		metadata["risk_action"] = RiskActionBlock
		return deny(g.name, fmt.Sprintf("risk score too high (%.1f >= %.1f)", score, high), metadata), nil
	case score >= low:
		if operatorConfirmed(pc) {
			metadata["risk_action"] = RiskActionAllow
			return allow(g.name, metadata), nil
		}
		metadata["risk_action"] = RiskActionFlag
		return deny(g.name, fmt.Sprintf("payment flagged for review (risk score %.1f)", score), metadata), nil
	default:
		metadata["risk_action"] = RiskActionAllow
		return allow(g.name, metadata), nil
	}
}

// Reserve runs the risk evaluation; denials carry the risk action and
// score as error details so callers can hold flagged payments instead of
// refusing them.
func (g *RiskGuard) Reserve(ctx context.Context, pc PaymentContext) (string, error) {
	result, err := g.Check(ctx, pc)
	if err != nil {
		return "", err
	}
	if !result.Allowed {
		guardErr := apperrors.NewGuardError(g.name, result.Reason)
		if action, ok := result.Metadata["risk_action"]; ok {
			guardErr = guardErr.WithDetail("risk_action", action)
		}
		if score, ok := result.Metadata["risk_score"]; ok {
			guardErr = guardErr.WithDetail("risk_score", score)
		}
		return "", guardErr
	}
	return "", nil
}

func (g *RiskGuard) Commit(ctx context.Context, token string) error  { return nil }
func (g *RiskGuard) Release(ctx context.Context, token string) error { return nil }
func (g *RiskGuard) Reset()                                          {}

// RiskActionOf extracts the risk action from a guard denial, defaulting
// to BLOCK for any other guard error.
func RiskActionOf(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		if action, ok := appErr.Details["risk_action"].(string); ok {
			return action
		}
	}
	return RiskActionBlock
}
