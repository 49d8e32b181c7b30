package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"sync"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
)

// entityCipher produces the entity secret ciphertext attached to every
// write call. The provider requires a FRESH ciphertext per request
// (random OAEP padding), so encryption happens per call; only the public
// key fetch is cached.
type entityCipher struct {
	secret []byte

	mu        sync.Mutex
	publicKey *rsa.PublicKey
}

func newEntityCipher(secretHex string) (*entityCipher, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeConfig, "entity secret is not valid hex", err)
	}
	if len(secret) != 32 {
		return nil, apperrors.Newf(apperrors.ErrCodeConfig, "entity secret must be 32 bytes, got %d", len(secret))
	}
	return &entityCipher{secret: secret}, nil
}

// ciphertext encrypts the entity secret with the entity's RSA public key
// using OAEP-SHA256 and returns the base64 form the API expects.
func (e *entityCipher) ciphertext(ctx context.Context, c *Client) (string, error) {
	key, err := e.fetchPublicKey(ctx, c)
	if err != nil {
		return "", err
	}

	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, e.secret, nil)
	if err != nil {
		return "", fmt.Errorf("encrypt entity secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func (e *entityCipher) fetchPublicKey(ctx context.Context, c *Client) (*rsa.PublicKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.publicKey != nil {
		return e.publicKey, nil
	}

	var resp struct {
		Data struct {
			PublicKey string `json:"publicKey"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/w3s/config/entity/publicKey", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch entity public key: %w", err)
	}

	key, err := parseRSAPublicKey(resp.Data.PublicKey)
	if err != nil {
		return nil, err
	}
	e.publicKey = key
	return key, nil
}

func parseRSAPublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderError, "entity public key is not PEM encoded")
	}

	// Providers publish either PKIX or PKCS#1 encoded keys.
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PublicKey); ok {
			return key, nil
		}
		return nil, apperrors.New(apperrors.ErrCodeProviderError, "entity public key is not RSA")
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeProviderError, "parse entity public key", err)
	}
	return key, nil
}
