// Package cctp drives Circle CCTP V2 cross-chain USDC transfers: the
// approve, burn, attest, mint sequence, with the Iris attestation
// service in the middle. Same-chain requests never reach this package;
// the routing layer sends those through a plain transfer.
package cctp

import (
	"fmt"
	"strings"

	"github.com/agentpay/agentpay-go/internal/network"
)

// CCTP V2 domain identifiers. Mainnet and testnet share a domain.
var domainIDs = map[network.Network]uint32{
	network.Eth:         0,
	network.EthSepolia:  0,
	network.Avax:        1,
	network.AvaxFuji:    1,
	network.Op:          2,
	network.OpSepolia:   2,
	network.Arb:         3,
	network.ArbSepolia:  3,
	network.Sol:         5,
	network.SolDevnet:   5,
	network.Base:        6,
	network.BaseSepolia: 6,
	network.Matic:       7,
	network.MaticAmoy:   7,
	network.ArcTestnet:  26,
}

// TokenMessengerV2 and MessageTransmitterV2 are deployed at one address
// per environment across EVM chains.
const (
	tokenMessengerMainnet = "0x28b5a0e9C621a5BadaA536219b3a228C8168cf5d"
	tokenMessengerTestnet = "0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"

	messageTransmitterMainnet = "0x81D40F21F12A8F0E3252Bccb954D722d4c464B64"
	messageTransmitterTestnet = "0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"
)

// usdcContracts maps networks to their canonical USDC deployments.
var usdcContracts = map[network.Network]string{
	network.Eth:         "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	network.EthSepolia:  "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
	network.Avax:        "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	network.AvaxFuji:    "0x5425890298aed601595a70AB815c96711a31Bc65",
	network.Op:          "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
	network.OpSepolia:   "0x5fd84259d66Cd46123540766Be93DFE6D43130D7",
	network.Arb:         "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	network.ArbSepolia:  "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d",
	network.Base:        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	network.BaseSepolia: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	network.Matic:       "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	network.MaticAmoy:   "0x41e94eb019c0762f9bfcf9fb1e58725bfb0e7582",
	network.ArcTestnet:  "0x79A02482A880bCE3F13e09Da970dC34db4CD24d1",
}

// Iris attestation API endpoints.
const (
	irisMainnet = "https://iris-api.circle.com"
	irisSandbox = "https://iris-api-sandbox.circle.com"
)

// Transfer finality thresholds. Fast Transfer settles in seconds,
// Standard waits for hard finality (13-19 minutes on L1s).
const (
	FastTransferThreshold     = 1000
	StandardTransferThreshold = 2000
)

// DefaultMaxFee is 0.0005 USDC in atomic units, the fee ceiling offered
// to the forwarding service for relayed minting.
const DefaultMaxFee = 500

// emptyDestinationCaller lets any address call receiveMessage on the
// destination chain.
const emptyDestinationCaller = "0x0000000000000000000000000000000000000000000000000000000000000000"

// Supported reports whether a network participates in CCTP.
func Supported(net network.Network) bool {
	_, ok := domainIDs[net]
	return ok
}

// Domain returns the CCTP domain ID for a network.
func Domain(net network.Network) (uint32, bool) {
	d, ok := domainIDs[net]
	return d, ok
}

// TokenMessenger returns the TokenMessengerV2 address for a network,
// empty when CCTP is unsupported or the network is not EVM.
func TokenMessenger(net network.Network) string {
	if !Supported(net) || !net.IsEVM() {
		return ""
	}
	if net.IsTestnet() {
		return tokenMessengerTestnet
	}
	return tokenMessengerMainnet
}

// MessageTransmitter returns the MessageTransmitterV2 address for a
// network, empty when unsupported.
func MessageTransmitter(net network.Network) string {
	if !Supported(net) || !net.IsEVM() {
		return ""
	}
	if net.IsTestnet() {
		return messageTransmitterTestnet
	}
	return messageTransmitterMainnet
}

// USDCContract returns the USDC token address on a network.
func USDCContract(net network.Network) string {
	return usdcContracts[net]
}

// IrisURL returns the attestation API base URL for a network's
// environment.
func IrisURL(net network.Network) string {
	if net.IsTestnet() {
		return irisSandbox
	}
	return irisMainnet
}

// AttestationURL builds the V2 message lookup URL for a burn
// transaction.
func AttestationURL(net network.Network, domain uint32, txHash string) string {
	return fmt.Sprintf("%s/v2/messages/%d?transactionHash=%s", IrisURL(net), domain, txHash)
}

// MintRecipientWord left-pads an EVM address into the bytes32
// mintRecipient parameter.
func MintRecipientWord(address string) string {
	trimmed := strings.TrimPrefix(strings.ToLower(address), "0x")
	return "0x" + strings.Repeat("0", 64-len(trimmed)) + trimmed
}
