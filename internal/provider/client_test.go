package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
)

const testEntitySecret = "4aa8e36e3bd3cd11c1a21d0dbcf7a0a1f0a3ab9d4f4eb1c97a52b8a6a1f0c3d2"

type fakeProvider struct {
	t          *testing.T
	server     *httptest.Server
	privateKey *rsa.PrivateKey

	publicKeyFetches atomic.Int32
	transferBodies   []map[string]any
	txStates         []string
	txPolls          atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	f := &fakeProvider{t: t, privateKey: key}
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/w3s/config/entity/publicKey", func(w http.ResponseWriter, r *http.Request) {
		f.publicKeyFetches.Add(1)
		der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			t.Errorf("marshal public key: %v", err)
		}
		pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
		writeJSON(w, map[string]any{"data": map[string]any{"publicKey": pemText}})
	})

	mux.HandleFunc("/v1/w3s/wallets/w1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{"wallet": Wallet{
			ID: "w1", Address: "0x742d35Cc6634C0532925a3b844Bc9e7595f5e4a0",
			Blockchain: "ETH-SEPOLIA", State: "LIVE", WalletSetID: "ws1",
		}}})
	})

	mux.HandleFunc("/v1/w3s/wallets/w1/balances", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{"tokenBalances": []TokenBalance{
			{Token: Token{ID: "usdc-token", Symbol: "USDC", Decimals: 6}, Amount: "100.50"},
			{Token: Token{ID: "eth-token", Symbol: "ETH", IsNative: true, Decimals: 18}, Amount: "0.2"},
		}}})
	})

	mux.HandleFunc("/v1/w3s/developer/transactions/transfer", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode transfer body: %v", err)
		}
		f.transferBodies = append(f.transferBodies, body)

		ciphertext, _ := body["entitySecretCiphertext"].(string)
		raw, err := base64.StdEncoding.DecodeString(ciphertext)
		if err != nil {
			t.Errorf("ciphertext not base64: %v", err)
		}
		plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, f.privateKey, raw, nil)
		if err != nil {
			t.Errorf("ciphertext does not decrypt: %v", err)
		}
		if hex.EncodeToString(plain) != testEntitySecret {
			t.Error("decrypted entity secret mismatch")
		}

		writeJSON(w, map[string]any{"data": Transaction{ID: "tx1", State: TxStateInitiated}})
	})

	mux.HandleFunc("/v1/w3s/transactions/tx1", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.txPolls.Add(1)) - 1
		state := f.txStates[len(f.txStates)-1]
		if n < len(f.txStates) {
			state = f.txStates[n]
		}
		writeJSON(w, map[string]any{"data": map[string]any{"transaction": Transaction{
			ID: "tx1", State: state, TxHash: "0xabc",
		}}})
	})

	mux.HandleFunc("/v1/w3s/wallets/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"code": 404, "message": "not found"})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeProvider) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:       "TEST_API_KEY",
		EntitySecret: testEntitySecret,
		BaseURL:      f.server.URL,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetWallet(t *testing.T) {
	f := newFakeProvider(t)
	c := f.client(t)

	w, err := c.GetWallet(context.Background(), "w1")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if w.Blockchain != "ETH-SEPOLIA" || w.State != "LIVE" {
		t.Errorf("wallet = %+v", w)
	}
}

func TestGetWalletNotFound(t *testing.T) {
	f := newFakeProvider(t)
	c := f.client(t)

	_, err := c.GetWallet(context.Background(), "missing")
	if !apperrors.Is(err, apperrors.ErrCodeWalletNotFound) {
		t.Errorf("err = %v, want wallet_not_found", err)
	}
}

func TestGetWalletBalances(t *testing.T) {
	f := newFakeProvider(t)
	c := f.client(t)

	balances, err := c.GetWalletBalances(context.Background(), "w1")
	if err != nil {
		t.Fatalf("GetWalletBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("got %d balances, want 2", len(balances))
	}
	if balances[0].Token.Symbol != "USDC" || balances[0].Amount != "100.50" {
		t.Errorf("usdc balance = %+v", balances[0])
	}
}

func TestCreateTransferAttachesFreshCiphertext(t *testing.T) {
	f := newFakeProvider(t)
	c := f.client(t)
	ctx := context.Background()

	req := TransferRequest{
		WalletID:           "w1",
		TokenID:            "usdc-token",
		DestinationAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f5e4a0",
		Amount:             "1.5",
		IdempotencyKey:     "idem-1",
	}

	if _, err := c.CreateTransfer(ctx, req); err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if _, err := c.CreateTransfer(ctx, req); err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}

	if len(f.transferBodies) != 2 {
		t.Fatalf("got %d transfer calls, want 2", len(f.transferBodies))
	}
	if f.transferBodies[0]["idempotencyKey"] != "idem-1" {
		t.Errorf("idempotency key = %v", f.transferBodies[0]["idempotencyKey"])
	}
	if f.transferBodies[0]["entitySecretCiphertext"] == f.transferBodies[1]["entitySecretCiphertext"] {
		t.Error("ciphertext reused across requests")
	}
	// Public key is cached after the first fetch.
	if fetches := f.publicKeyFetches.Load(); fetches != 1 {
		t.Errorf("public key fetched %d times, want 1", fetches)
	}
}

func TestWaitForTransaction(t *testing.T) {
	f := newFakeProvider(t)
	f.txStates = []string{TxStateInitiated, TxStateSent, TxStateComplete}
	c := f.client(t)

	tx, err := c.WaitForTransaction(context.Background(), "tx1", time.Second)
	if err != nil {
		t.Fatalf("WaitForTransaction: %v", err)
	}
	if tx.State != TxStateComplete {
		t.Errorf("state = %q, want COMPLETE", tx.State)
	}
	if !tx.Succeeded() {
		t.Error("Succeeded() = false for COMPLETE")
	}
}

func TestWaitForTransactionTimeout(t *testing.T) {
	f := newFakeProvider(t)
	f.txStates = []string{TxStateSent}
	c := f.client(t)

	tx, err := c.WaitForTransaction(context.Background(), "tx1", 20*time.Millisecond)
	if !apperrors.Is(err, apperrors.ErrCodeTransactionTimeout) {
		t.Fatalf("err = %v, want transaction_timeout", err)
	}
	if tx == nil || tx.State != TxStateSent {
		t.Errorf("last tx = %+v", tx)
	}
}

func TestTerminalStates(t *testing.T) {
	tests := []struct {
		state    string
		terminal bool
		success  bool
	}{
		{TxStateComplete, true, true},
		{TxStateFailed, true, false},
		{TxStateCancelled, true, false},
		{TxStateCleared, true, false},
		{TxStateSent, false, false},
		{TxStateInitiated, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			tx := &Transaction{State: tt.state}
			if tx.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", tx.IsTerminal(), tt.terminal)
			}
			if tx.Succeeded() != tt.success {
				t.Errorf("Succeeded() = %v, want %v", tx.Succeeded(), tt.success)
			}
		})
	}
}

func TestNewRejectsBadSecret(t *testing.T) {
	_, err := New(Config{APIKey: "k", EntitySecret: "not-hex"}, nil, nil, zerolog.Nop())
	if !apperrors.Is(err, apperrors.ErrCodeConfig) {
		t.Errorf("err = %v, want config_error", err)
	}

	_, err = New(Config{APIKey: "k", EntitySecret: "abcd"}, nil, nil, zerolog.Nop())
	if !apperrors.Is(err, apperrors.ErrCodeConfig) {
		t.Errorf("short secret err = %v, want config_error", err)
	}
}
