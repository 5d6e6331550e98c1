package httputil

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x"}`))

	var dest struct {
		Name string `json:"name"`
	}
	require.NoError(t, ParseJSON(r, &dest))
	assert.Equal(t, "x", dest.Name)

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
	assert.Error(t, ParseJSON(r, &dest))
}

func TestPagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 20, 0},
		{"explicit", "limit=5&offset=10", 5, 10},
		{"capped at max", "limit=9999", 100, 0},
		{"negative values fall back", "limit=-1&offset=-5", 20, 0},
		{"garbage falls back", "limit=abc&offset=xyz", 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/?"+tt.query, nil)
			limit, offset := Pagination(r, 20, 100)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:4567"
	assert.Equal(t, "10.1.2.3", ClientIP(r))

	r.Header.Set("X-Real-IP", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "198.51.100.1", ClientIP(r))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer unuxt_abc")
	assert.Equal(t, "unuxt_abc", BearerToken(r))

	r.Header.Set("Authorization", "bearer unuxt_abc")
	assert.Equal(t, "unuxt_abc", BearerToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, BearerToken(r))
}
