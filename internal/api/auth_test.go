package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/pkg/logging"
)

func TestApiKeyValidator_Valid(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	v := newAPIKeyValidator([]config.Secret{"valid-key-1", "valid-key-2"}, logger)

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid key 1", "valid-key-1", true},
		{"valid key 2", "valid-key-2", true},
		{"invalid key", "nope", false},
		{"empty key", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.valid(tt.key))
		})
	}
}

func TestApiKeyValidator_DisabledWhenNoKeysConfigured(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	v := newAPIKeyValidator(nil, logger)

	assert.False(t, v.enabled())

	called := false
	wrapped := v.wrap(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	rec := httptest.NewRecorder()
	wrapped(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApiKeyValidator_WrapRejectsMissingKey(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	v := newAPIKeyValidator([]config.Secret{"secret-key"}, logger)

	called := false
	wrapped := v.wrap(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	rec := httptest.NewRecorder()
	wrapped(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApiKeyValidator_WrapAcceptsValidKey(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	v := newAPIKeyValidator([]config.Secret{"secret-key"}, logger)

	called := false
	wrapped := v.wrap(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	req.Header.Set(apiKeyHeader, "secret-key")
	rec := httptest.NewRecorder()
	wrapped(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
