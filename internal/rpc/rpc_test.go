package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/resilience"
	"github.com/agentpay/agentpay-go/internal/storage"
)

func rpcServer(t *testing.T, handler func(req rpcRequest) (string, *rpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		result, rpcErr := handler(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEthCall(t *testing.T) {
	srv := rpcServer(t, func(req rpcRequest) (string, *rpcError) {
		if req.Method != "eth_call" {
			t.Errorf("method = %q", req.Method)
		}
		return "0x" + strings.Repeat("00", 31) + "2a", nil
	})

	c := NewClient(map[string][]string{"BASE": {srv.URL}}, nil, zerolog.Nop())
	result, err := c.EthCall(context.Background(), network.Base, "0xabc", "0x6352211e")
	if err != nil {
		t.Fatalf("EthCall: %v", err)
	}
	v, err := DecodeUint256(result, 0)
	if err != nil || v.Int64() != 42 {
		t.Errorf("decoded = (%v, %v)", v, err)
	}
}

func TestEthCallEmptyResult(t *testing.T) {
	srv := rpcServer(t, func(rpcRequest) (string, *rpcError) { return "0x", nil })

	c := NewClient(map[string][]string{"BASE": {srv.URL}}, nil, zerolog.Nop())
	result, err := c.EthCall(context.Background(), network.Base, "0xabc", "0x01")
	if err != nil || result != "" {
		t.Errorf("EthCall = (%q, %v), want empty result", result, err)
	}
}

func TestEthCallFallsBackAcrossEndpoints(t *testing.T) {
	// First endpoint serves HTTP errors, second an RPC error object,
	// third answers. The call should land on the third.
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer broken.Close()
	erroring := rpcServer(t, func(rpcRequest) (string, *rpcError) {
		return "", &rpcError{Code: -32000, Message: "execution reverted"}
	})
	healthy := rpcServer(t, func(rpcRequest) (string, *rpcError) {
		return "0x" + strings.Repeat("00", 31) + "01", nil
	})

	c := NewClient(map[string][]string{
		"BASE": {broken.URL, erroring.URL, healthy.URL},
	}, nil, zerolog.Nop())

	result, err := c.EthCall(context.Background(), network.Base, "0xabc", "0x01")
	if err != nil {
		t.Fatalf("EthCall: %v", err)
	}
	if v, _ := DecodeUint256(result, 0); v.Int64() != 1 {
		t.Errorf("decoded = %v", v)
	}
}

func TestEthCallAllEndpointsFail(t *testing.T) {
	erroring := rpcServer(t, func(rpcRequest) (string, *rpcError) {
		return "", &rpcError{Code: -32000, Message: "down"}
	})

	c := NewClient(map[string][]string{"BASE": {erroring.URL, erroring.URL}}, nil, zerolog.Nop())
	if _, err := c.EthCall(context.Background(), network.Base, "0xabc", "0x01"); !apperrors.Is(err, apperrors.ErrCodeRPCError) {
		t.Errorf("err = %v, want rpc_error", err)
	}

	unconfigured := NewClient(map[string][]string{}, nil, zerolog.Nop())
	if _, err := unconfigured.EthCall(context.Background(), network.Base, "0xabc", "0x01"); !apperrors.Is(err, apperrors.ErrCodeConfig) {
		t.Errorf("unconfigured err = %v, want config", err)
	}
}

func TestEthCallBreakerTripsPool(t *testing.T) {
	ctx := context.Background()
	calls := 0
	erroring := rpcServer(t, func(rpcRequest) (string, *rpcError) {
		calls++
		return "", &rpcError{Code: -32000, Message: "down"}
	})

	breaker := resilience.NewBreaker("rpc", storage.NewMemoryBackend(), resilience.BreakerOptions{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}, zerolog.Nop())
	c := NewClient(map[string][]string{"BASE": {erroring.URL}}, nil, zerolog.Nop()).WithBreaker(breaker)

	if _, err := c.EthCall(ctx, network.Base, "0xabc", "0x01"); !apperrors.Is(err, apperrors.ErrCodeRPCError) {
		t.Fatalf("first err = %v, want rpc_error", err)
	}

	// The total failure tripped the shared breaker: the next call fails
	// fast without touching any endpoint.
	if _, err := c.EthCall(ctx, network.Base, "0xabc", "0x01"); !apperrors.Is(err, apperrors.ErrCodeCircuitOpen) {
		t.Fatalf("second err = %v, want circuit_open", err)
	}
	if calls != 1 {
		t.Errorf("endpoint calls = %d, want 1", calls)
	}
}

func TestEncodeCall(t *testing.T) {
	data := EncodeCall("6352211e", Uint64Word(7))
	want := "0x6352211e" + strings.Repeat("00", 31) + "07"
	if data != want {
		t.Errorf("data = %q, want %q", data, want)
	}

	data = EncodeCall("70a08231", AddressWord("0x742d35Cc6634C0532925a3b844Bc9e7595f5e4a0"))
	if !strings.HasPrefix(data, "0x70a08231000000000000000000000000742d35cc") {
		t.Errorf("address calldata = %q", data)
	}
}

func TestDecodeAddress(t *testing.T) {
	result := "0x" + strings.Repeat("00", 12) + "742d35cc6634c0532925a3b844bc9e7595f5e4a0"
	addr, err := DecodeAddress(result, 0)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if !strings.EqualFold(addr, "0x742d35Cc6634C0532925a3b844Bc9e7595f5e4a0") {
		t.Errorf("addr = %q", addr)
	}
}

func TestDecodeInt128(t *testing.T) {
	// 85 as a positive value.
	pos := "0x" + strings.Repeat("00", 31) + "55"
	v, err := DecodeInt128(pos, 0)
	if err != nil || v.Int64() != 85 {
		t.Errorf("positive = (%v, %v)", v, err)
	}

	// -1 in 128-bit two's complement, left-padded with zeros.
	neg := "0x" + strings.Repeat("00", 16) + strings.Repeat("ff", 16)
	v, err = DecodeInt128(neg, 0)
	if err != nil || v.Int64() != -1 {
		t.Errorf("negative = (%v, %v)", v, err)
	}
}

func TestDecodeString(t *testing.T) {
	payload := "ipfs://QmHash"
	hexLen := big.NewInt(int64(len(payload)))

	var b strings.Builder
	b.WriteString("0x")
	b.WriteString(strings.Repeat("00", 31) + "20") // offset 32
	b.WriteString(strings.Repeat("00", 31))
	b.WriteString(hexByte(hexLen.Int64()))
	for _, ch := range []byte(payload) {
		b.WriteString(hexByte(int64(ch)))
	}
	// Pad the tail to a full word.
	for i := len(payload); i%32 != 0; i++ {
		b.WriteString("00")
	}

	s, err := DecodeString(b.String())
	if err != nil || s != payload {
		t.Errorf("DecodeString = (%q, %v), want %q", s, err, payload)
	}
}

func TestDecodeAddressArray(t *testing.T) {
	addr1 := "742d35cc6634c0532925a3b844bc9e7595f5e4a0"
	addr2 := "1111111111111111111111111111111111111111"
	result := "0x" +
		strings.Repeat("00", 31) + "20" + // offset
		strings.Repeat("00", 31) + "02" + // count
		strings.Repeat("00", 12) + addr1 +
		strings.Repeat("00", 12) + addr2

	addrs, err := DecodeAddressArray(result)
	if err != nil {
		t.Fatalf("DecodeAddressArray: %v", err)
	}
	if len(addrs) != 2 || !strings.EqualFold(addrs[0], "0x"+addr1) || !strings.EqualFold(addrs[1], "0x"+addr2) {
		t.Errorf("addrs = %v", addrs)
	}
}

func TestDecodeRejectsShortResults(t *testing.T) {
	if _, err := DecodeUint256("0x00", 0); !apperrors.Is(err, apperrors.ErrCodeRPCError) {
		t.Errorf("short uint err = %v", err)
	}
	if _, err := DecodeString("0x"+strings.Repeat("00", 31)+"ff"); !apperrors.Is(err, apperrors.ErrCodeRPCError) {
		t.Errorf("bad offset err = %v", err)
	}
}

func hexByte(v int64) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[(v>>4)&0xf], digits[v&0xf]})
}
