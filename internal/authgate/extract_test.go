package authgate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func request(authHeader string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	return r
}

func TestExtractToken_AcceptsBearerPrefix(t *testing.T) {
	token, ok := ExtractToken(request("Bearer abc123"))
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)
}

func TestExtractToken_AcceptsLowercaseBearerPrefix(t *testing.T) {
	token, ok := ExtractToken(request("bearer abc123"))
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)
}

func TestExtractToken_AcceptsRawTokenWithoutScheme(t *testing.T) {
	token, ok := ExtractToken(request("abc123"))
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)
}

func TestExtractToken_MissingHeaderReturnsFalse(t *testing.T) {
	_, ok := ExtractToken(request(""))
	assert.False(t, ok)
}

func TestExtractToken_EmptyBearerTokenReturnsFalse(t *testing.T) {
	_, ok := ExtractToken(request("Bearer "))
	assert.False(t, ok)
}
