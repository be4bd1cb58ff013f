package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// pkce holds the verifier/challenge pair for one authorization-code attempt,
// grounded on the Bigsy-mcpmu PKCE helper used by the standalone OAuth flow
// reference file.
type pkce struct {
	Verifier  string
	Challenge string
	Method    string
}

func newPKCE() (pkce, error) {
	verifier, err := randomURLSafeString(32)
	if err != nil {
		return pkce{}, fmt.Errorf("generate code_verifier: %w", err)
	}
	sum := sha256.Sum256([]byte(verifier))
	return pkce{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		Method:    "S256",
	}, nil
}

func generateState() (string, error) {
	return randomURLSafeString(24)
}

func randomURLSafeString(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
