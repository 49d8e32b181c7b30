package network

import (
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// RecipientKind classifies a payment recipient string.
type RecipientKind int

const (
	RecipientUnknown RecipientKind = iota
	RecipientEVMAddress
	RecipientSolanaAddress
	RecipientURL
	RecipientChainAddress // legacy "chain:address" form
)

var (
	evmAddressPattern    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// IsEVMAddress reports whether s is a well-formed 20-byte hex address.
func IsEVMAddress(s string) bool {
	return evmAddressPattern.MatchString(s)
}

// IsSolanaAddress reports whether s is a well-formed Solana public key.
// The regex filters the Base58 alphabet and length; the decode confirms
// the 32-byte payload.
func IsSolanaAddress(s string) bool {
	if strings.HasPrefix(s, "0x") {
		return false
	}
	if !solanaAddressPattern.MatchString(s) {
		return false
	}
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

// IsURL reports whether s is an http(s) URL recipient.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ClassifyRecipient determines what kind of recipient a string is.
func ClassifyRecipient(s string) RecipientKind {
	switch {
	case IsURL(s):
		return RecipientURL
	case IsEVMAddress(s):
		return RecipientEVMAddress
	case IsSolanaAddress(s):
		return RecipientSolanaAddress
	}

	// Legacy "chain:address" form, e.g. "BASE:0xabc..."
	if idx := strings.Index(s, ":"); idx > 0 {
		chain, addr := s[:idx], s[idx+1:]
		if _, err := FromString(chain); err == nil {
			if IsEVMAddress(addr) || IsSolanaAddress(addr) {
				return RecipientChainAddress
			}
		}
	}

	return RecipientUnknown
}

// SplitChainAddress splits a legacy "chain:address" recipient. The second
// return is false when s is not in that form.
func SplitChainAddress(s string) (Network, string, bool) {
	idx := strings.Index(s, ":")
	if idx <= 0 {
		return "", "", false
	}
	n, err := FromString(s[:idx])
	if err != nil {
		return "", "", false
	}
	return n, s[idx+1:], true
}

// MatchesAddressFormat reports whether addr is a valid address for the
// given network's address scheme.
func (n Network) MatchesAddressFormat(addr string) bool {
	if n.IsSolana() {
		return IsSolanaAddress(addr)
	}
	if n.IsEVM() {
		return IsEVMAddress(addr)
	}
	return false
}
