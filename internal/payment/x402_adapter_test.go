package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/pkg/x402"
)

func x402Server(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestX402AdapterPaysAndRetries(t *testing.T) {
	var proofHeader string
	srv := x402Server(t, func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get(x402.HeaderPaymentSignature); h != "" {
			proofHeader = h
			w.Header().Set(x402.HeaderPaymentResponse, "settled")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"data":"premium"}`))
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"scheme":            "exact",
			"network":           "BASE-SEPOLIA",
			"maxAmountRequired": "750000",
			"paymentAddress":    "0xSeller",
			"description":       "premium data",
		})
	})

	svc := &fakeWalletSvc{balance: money.MustFromMajor("10")}
	a := NewX402Adapter(svc, nil, zerolog.Nop())

	result := a.Execute(context.Background(), Request{
		WalletID:  "w1",
		Recipient: srv.URL,
		Amount:    money.MustFromMajor("1"),
	}, network.BaseSepolia)

	if !result.Success || result.Status != StatusCompleted {
		t.Fatalf("result = %+v", result)
	}
	if result.Amount.ToMajor() != "0.75" {
		t.Errorf("settled amount = %s, want the required 0.75", result.Amount.ToMajor())
	}
	if string(result.ResourceData) != `{"data":"premium"}` {
		t.Errorf("resource data = %s", result.ResourceData)
	}
	if result.Metadata["payment_response"] != "settled" {
		t.Errorf("metadata = %+v", result.Metadata)
	}

	// The transfer went to the seller's address for the required amount.
	if len(svc.transfers) != 1 || svc.transfers[0].destination != "0xSeller" {
		t.Fatalf("transfers = %+v", svc.transfers)
	}
	if svc.transfers[0].amount.ToMajor() != "0.75" {
		t.Errorf("transfer amount = %s", svc.transfers[0].amount.ToMajor())
	}

	// The proof header decodes to a V2 payload carrying the tx hash.
	decoded, err := base64.StdEncoding.DecodeString(proofHeader)
	if err != nil {
		t.Fatalf("decode proof: %v", err)
	}
	var payload x402.Payload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		t.Fatalf("unmarshal proof: %v", err)
	}
	if payload.X402Version != 2 || payload.Payload.TransactionHash != "0xhash" || payload.Payload.FromAddress != "0xPayer" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestX402AdapterFreeResource(t *testing.T) {
	srv := x402Server(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"free"}`))
	})

	svc := &fakeWalletSvc{}
	a := NewX402Adapter(svc, nil, zerolog.Nop())
	result := a.Execute(context.Background(), Request{
		WalletID: "w1", Recipient: srv.URL, Amount: money.MustFromMajor("1"),
	}, network.Base)

	if !result.Success || result.Status != StatusCompleted {
		t.Fatalf("result = %+v", result)
	}
	if len(svc.transfers) != 0 {
		t.Error("free resources must not trigger transfers")
	}
}

func TestX402AdapterAmountCap(t *testing.T) {
	srv := x402Server(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"network":           "BASE",
			"maxAmountRequired": "5000000",
			"paymentAddress":    "0xSeller",
		})
	})

	svc := &fakeWalletSvc{}
	a := NewX402Adapter(svc, nil, zerolog.Nop())
	result := a.Execute(context.Background(), Request{
		WalletID: "w1", Recipient: srv.URL, Amount: money.MustFromMajor("1"),
	}, network.Base)

	if result.Success || result.Status != StatusFailed {
		t.Fatalf("result = %+v", result)
	}
	if len(svc.transfers) != 0 {
		t.Error("over-cap requirements must not settle")
	}
}

func TestX402AdapterHeaderFallback(t *testing.T) {
	requirements := base64.StdEncoding.EncodeToString([]byte(
		`{"network":"BASE","maxAmountRequired":"100000","paymentAddress":"0xSeller"}`))
	srv := x402Server(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.HeaderPaymentSignature) != "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set(x402.HeaderPaymentRequired, requirements)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("payment required"))
	})

	svc := &fakeWalletSvc{}
	a := NewX402Adapter(svc, nil, zerolog.Nop())
	result := a.Execute(context.Background(), Request{
		WalletID: "w1", Recipient: srv.URL, Amount: money.MustFromMajor("1"),
	}, network.Base)

	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(svc.transfers) != 1 || svc.transfers[0].amount.ToMajor() != "0.1" {
		t.Errorf("transfers = %+v", svc.transfers)
	}
}

func TestX402AdapterCrossChainDelegation(t *testing.T) {
	srv := x402Server(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.HeaderPaymentSignature) != "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"network":           "ARB",
			"maxAmountRequired": "500000",
			"paymentAddress":    "0xSeller",
		})
	})

	crossChain := &fakeAdapter{method: MethodCrossChain, priority: PriorityCrossChain,
		execute: func(req Request) *Result {
			if req.DestinationChain != network.Arb || req.Recipient != "0xSeller" {
				t.Errorf("delegated request = %+v", req)
			}
			return &Result{Success: true, Status: StatusCompleted, TransactionID: "tx-cc", BlockchainTx: "0xcc"}
		}}

	svc := &fakeWalletSvc{}
	a := NewX402Adapter(svc, crossChain, zerolog.Nop())
	result := a.Execute(context.Background(), Request{
		WalletID: "w1", Recipient: srv.URL, Amount: money.MustFromMajor("1"),
	}, network.Base)

	if !result.Success || result.BlockchainTx != "0xcc" {
		t.Fatalf("result = %+v", result)
	}
	if cc, _ := result.Metadata["cross_chain"].(bool); !cc {
		t.Error("cross-chain settlement must be marked in metadata")
	}
	if len(svc.transfers) != 0 {
		t.Error("cross-chain requirements must not use the direct transfer path")
	}
}

func TestX402AdapterRejectedProof(t *testing.T) {
	srv := x402Server(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.HeaderPaymentSignature) != "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"network":           "BASE",
			"maxAmountRequired": "100000",
			"paymentAddress":    "0xSeller",
		})
	})

	svc := &fakeWalletSvc{}
	a := NewX402Adapter(svc, nil, zerolog.Nop())
	result := a.Execute(context.Background(), Request{
		WalletID: "w1", Recipient: srv.URL, Amount: money.MustFromMajor("1"),
	}, network.Base)

	// The chain settlement happened; only the HTTP exchange failed.
	if result.Success || result.Status != StatusFailed {
		t.Fatalf("result = %+v", result)
	}
	if result.BlockchainTx != "0xhash" || result.TransactionID != "tx-1" {
		t.Errorf("settled tx must be carried on the failed result: %+v", result)
	}
}
