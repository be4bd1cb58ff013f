package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxTokenResponseBytes bounds how much of a token endpoint's response body we
// read, grounded on the Bigsy-mcpmu flow file's 1MB response cap.
const maxTokenResponseBytes = 1 << 20

// tokenResponse is the RFC 6749 §5.1 successful token response shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    json.Number `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// errorResponse is the RFC 6749 §5.2 error response shape.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// decodeTokenResponse parses an HTTP response from a token endpoint into a
// Credential, classifying non-2xx statuses per RFC 6749 §5.2.
func decodeTokenResponse(resp *http.Response) (Credential, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return Credential{}, newError(NetworkError, "reading token response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody errorResponse
		if jsonErr := json.Unmarshal(body, &errBody); jsonErr == nil && errBody.Error != "" {
			return Credential{}, newError(classifyOAuthError(errBody.Error), errBody.ErrorDescription, nil)
		}
		return Credential{}, newError(TokenAcquisitionFailed, fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode), nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, newError(ParseError, "decoding token response JSON", err)
	}
	if tr.AccessToken == "" {
		return Credential{}, newError(ParseError, "token response missing access_token", nil)
	}

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	var expiresAt time.Time
	if tr.ExpiresIn != "" {
		secs, err := strconv.ParseFloat(tr.ExpiresIn.String(), 64)
		if err == nil && secs > 0 {
			expiresAt = time.Now().Add(time.Duration(secs * float64(time.Second)))
		}
	}

	return Credential{
		AccessToken: tr.AccessToken,
		TokenType:   tokenType,
		ExpiresAt:   expiresAt,
	}, nil
}
