// Package network defines the closed set of blockchain identifiers the
// orchestrator understands, together with the traits (testnet, EVM,
// Solana) adapters need for routing decisions.
package network

import (
	"fmt"
	"strings"
)

// Network identifies a blockchain. The string values match the custodial
// provider's blockchain identifiers.
type Network string

const (
	Eth        Network = "ETH"
	EthSepolia Network = "ETH-SEPOLIA"
	Avax       Network = "AVAX"
	AvaxFuji   Network = "AVAX-FUJI"
	Matic      Network = "MATIC"
	MaticAmoy  Network = "MATIC-AMOY"
	Sol        Network = "SOL"
	SolDevnet  Network = "SOL-DEVNET"
	Arb        Network = "ARB"
	ArbSepolia Network = "ARB-SEPOLIA"
	Base       Network = "BASE"
	BaseSepolia Network = "BASE-SEPOLIA"
	Op         Network = "OP"
	OpSepolia  Network = "OP-SEPOLIA"
	Near       Network = "NEAR"
	NearTestnet Network = "NEAR-TESTNET"
	Aptos      Network = "APTOS"
	AptosTestnet Network = "APTOS-TESTNET"
	Uni        Network = "UNI"
	UniSepolia Network = "UNI-SEPOLIA"
	Monad      Network = "MONAD"
	MonadTestnet Network = "MONAD-TESTNET"
	ArcTestnet Network = "ARC-TESTNET"
	EVM        Network = "EVM"
	EVMTestnet Network = "EVM-TESTNET"
)

// all lists every recognised network for parsing and validation.
var all = []Network{
	Eth, EthSepolia, Avax, AvaxFuji, Matic, MaticAmoy, Sol, SolDevnet,
	Arb, ArbSepolia, Base, BaseSepolia, Op, OpSepolia, Near, NearTestnet,
	Aptos, AptosTestnet, Uni, UniSepolia, Monad, MonadTestnet, ArcTestnet,
	EVM, EVMTestnet,
}

// aliases maps lowercase shorthand to canonical identifiers.
var aliases = map[string]Network{
	"ethereum":        Eth,
	"ethereum-sepolia": EthSepolia,
	"sepolia":         EthSepolia,
	"avalanche":       Avax,
	"polygon":         Matic,
	"solana":          Sol,
	"solana-devnet":   SolDevnet,
	"arbitrum":        Arb,
	"arbitrum-sepolia": ArbSepolia,
	"optimism":        Op,
	"optimism-sepolia": OpSepolia,
	"base-sepolia":    BaseSepolia,
	"arc":             ArcTestnet,
}

// FromString resolves a network identifier, accepting canonical values
// case-insensitively plus common aliases ("base-sepolia", "polygon").
func FromString(s string) (Network, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("network: empty identifier")
	}

	upper := Network(strings.ToUpper(trimmed))
	for _, n := range all {
		if n == upper {
			return n, nil
		}
	}

	if n, ok := aliases[strings.ToLower(trimmed)]; ok {
		return n, nil
	}

	return "", fmt.Errorf("network: unknown identifier %q", s)
}

// String returns the canonical identifier.
func (n Network) String() string {
	return string(n)
}

// IsTestnet reports whether the network is a test network, by suffix
// convention.
func (n Network) IsTestnet() bool {
	s := string(n)
	return strings.HasSuffix(s, "-SEPOLIA") ||
		strings.HasSuffix(s, "-TESTNET") ||
		strings.HasSuffix(s, "-FUJI") ||
		strings.HasSuffix(s, "-DEVNET") ||
		strings.HasSuffix(s, "-AMOY")
}

// IsSolana reports whether the network is a Solana chain.
func (n Network) IsSolana() bool {
	return n == Sol || n == SolDevnet
}

// IsEVM reports whether the network uses EVM address semantics.
func (n Network) IsEVM() bool {
	switch n {
	case Sol, SolDevnet, Near, NearTestnet, Aptos, AptosTestnet:
		return false
	default:
		return true
	}
}
