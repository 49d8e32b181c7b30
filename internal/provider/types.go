package provider

// WalletSet groups wallets under a single custody entity.
type WalletSet struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CustodyType string `json:"custodyType"`
	CreateDate  string `json:"createDate"`
	UpdateDate  string `json:"updateDate"`
}

// Wallet is a provider-custodied wallet. The orchestrator never holds key
// material; it references wallets by ID.
type Wallet struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Blockchain  string `json:"blockchain"`
	State       string `json:"state"` // LIVE, FROZEN
	WalletSetID string `json:"walletSetId"`
	CustodyType string `json:"custodyType"`
	AccountType string `json:"accountType"`
	CreateDate  string `json:"createDate"`
	UpdateDate  string `json:"updateDate"`
}

// Token describes an asset held by a wallet.
type Token struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	Blockchain string `json:"blockchain"`
	Decimals   int    `json:"decimals"`
	IsNative   bool   `json:"isNative"`
	Address    string `json:"tokenAddress"`
}

// TokenBalance is one asset balance on a wallet. Amount is a decimal
// string in major units as reported by the provider.
type TokenBalance struct {
	Token  Token  `json:"token"`
	Amount string `json:"amount"`
}

// Transaction states reported by the provider.
const (
	TxStateInitiated = "INITIATED"
	TxStateQueued    = "QUEUED"
	TxStatePending   = "PENDING_RISK_SCREENING"
	TxStateSent      = "SENT"
	TxStateConfirmed = "CONFIRMED"
	TxStateComplete  = "COMPLETE"
	TxStateFailed    = "FAILED"
	TxStateCancelled = "CANCELLED"
	TxStateCleared   = "CLEARED"
	TxStateDenied    = "DENIED"
)

// Transaction is a provider-side transaction record.
type Transaction struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	TxHash        string `json:"txHash,omitempty"`
	WalletID      string `json:"walletId"`
	Blockchain    string `json:"blockchain"`
	TokenID       string `json:"tokenId,omitempty"`
	DestAddress   string `json:"destinationAddress,omitempty"`
	Amounts       []string `json:"amounts,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`
	ErrorReason   string `json:"errorReason,omitempty"`
	CreateDate    string `json:"createDate"`
	UpdateDate    string `json:"updateDate"`
}

// IsTerminal reports whether the transaction state will not change again.
func (t *Transaction) IsTerminal() bool {
	switch t.State {
	case TxStateComplete, TxStateFailed, TxStateCancelled, TxStateCleared, TxStateDenied:
		return true
	default:
		return false
	}
}

// Succeeded reports whether a terminal transaction landed on chain.
func (t *Transaction) Succeeded() bool {
	return t.State == TxStateComplete
}

// Fee levels accepted on write operations.
const (
	FeeLevelLow    = "LOW"
	FeeLevelMedium = "MEDIUM"
	FeeLevelHigh   = "HIGH"
)

// CreateWalletSetRequest names a new wallet set.
type CreateWalletSetRequest struct {
	Name string `json:"name"`
}

// CreateWalletsRequest provisions wallets inside a set.
type CreateWalletsRequest struct {
	WalletSetID string `json:"walletSetId"`
	Blockchains []string `json:"blockchains"`
	Count       int    `json:"count"`
	AccountType string `json:"accountType,omitempty"` // SCA or EOA
}

// TransferRequest moves tokens from a custodied wallet.
type TransferRequest struct {
	WalletID           string
	TokenID            string
	DestinationAddress string
	Amount             string // decimal string in major units
	FeeLevel           string
	IdempotencyKey     string
}

// ContractExecutionRequest invokes an arbitrary contract function from a
// custodied wallet. Parameters are ABI values in declaration order.
type ContractExecutionRequest struct {
	WalletID          string
	ContractAddress   string
	FunctionSignature string
	Parameters        []any
	FeeLevel          string
	IdempotencyKey    string
}

// ListWalletsFilter narrows ListWallets.
type ListWalletsFilter struct {
	WalletSetID string
	Blockchain  string
}

// ListTransactionsFilter narrows ListTransactions.
type ListTransactionsFilter struct {
	WalletID   string
	Blockchain string
}
