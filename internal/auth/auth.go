package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net/http"
	"strings"

	"github.com/mr-tron/base58"
)

type contextKey string

const walletKey contextKey = "wallet"

var (
	ErrMissingCredential = errors.New("missing or malformed Authorization header")
	ErrInvalidSignature  = errors.New("signature verification failed")
)

// VerifyRequest extracts the bearer credential and verifies it. The token
// format is "signature.message.publicKey" with signature and public key in
// base58; any wallet able to sign the message is accepted. Returns the
// verified public key.
func VerifyRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrMissingCredential
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrMissingCredential
	}
	signature, message, publicKey := parts[0], parts[1], parts[2]

	signatureBytes, err := base58.Decode(signature)
	if err != nil {
		return "", ErrInvalidSignature
	}
	publicKeyBytes, err := base58.Decode(publicKey)
	if err != nil || len(publicKeyBytes) != ed25519.PublicKeySize {
		return "", ErrInvalidSignature
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKeyBytes), []byte(message), signatureBytes) {
		return "", ErrInvalidSignature
	}
	return publicKey, nil
}

// IsAdmin reports whether the public key is on the admin allow-list.
func IsAdmin(publicKey string, adminKeys []string) bool {
	for _, key := range adminKeys {
		if key == publicKey {
			return true
		}
	}
	return false
}

// WalletMiddleware verifies the wallet credential and puts the public key
// into the request context.
func WalletMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wallet, err := VerifyRequest(r)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), walletKey, wallet)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware additionally requires the verified key to be allow-listed.
func AdminMiddleware(adminKeys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wallet, err := VerifyRequest(r)
			if err != nil || !IsAdmin(wallet, adminKeys) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), walletKey, wallet)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Wallet extracts the verified public key from the request context.
func Wallet(ctx context.Context) string {
	if wallet, ok := ctx.Value(walletKey).(string); ok {
		return wallet
	}
	return ""
}
