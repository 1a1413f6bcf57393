package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"team_name": "checkout"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
		{
			name:        "empty body",
			body:        "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "checkout", dest["team_name"])
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectOK   bool
		expectCode int
	}{
		{
			name:     "valid JSON",
			body:     `{"org_name": "acme"}`,
			expectOK: true,
		},
		{
			name:       "invalid JSON",
			body:       `{invalid}`,
			expectOK:   false,
			expectCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			ok := ParseJSONOrError(w, req, &dest)

			assert.Equal(t, tt.expectOK, ok)
			if !tt.expectOK {
				assert.Equal(t, tt.expectCode, w.Code)
			}
		})
	}
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/nodes/node-123", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "node-123"})

	val, err := ParsePathString(req, "id")

	assert.NoError(t, err)
	assert.Equal(t, "node-123", val)
}

func TestParsePathString_Missing(t *testing.T) {
	req := httptest.NewRequest("GET", "/nodes", nil)

	_, err := ParsePathString(req, "id")

	assert.Error(t, err)
}

func TestParsePathStringOrError_Missing(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/nodes", nil)

	val, ok := ParsePathStringOrError(w, req, "id")

	assert.False(t, ok)
	assert.Empty(t, val)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?limit=5", nil)

	val, err := ParseQueryInt(req, "limit", 100)

	assert.NoError(t, err)
	assert.Equal(t, 5, val)
}

func TestParseQueryInt_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	val, err := ParseQueryInt(req, "limit", 100)

	assert.NoError(t, err)
	assert.Equal(t, 100, val)
}

func TestParseQueryInt_Invalid(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?limit=lots", nil)

	_, err := ParseQueryInt(req, "limit", 100)

	assert.Error(t, err)
}

func TestParseQueryBool(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?include_inactive=true", nil)

	val, err := ParseQueryBool(req, "include_inactive", false)

	assert.NoError(t, err)
	assert.True(t, val)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()

	ok := RequireNonEmpty(w, "", "team_name")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "team_name is required")
}

func TestRequirePositive(t *testing.T) {
	w := httptest.NewRecorder()

	ok := RequirePositive(w, 0, "version")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "version must be positive")
}

func TestValidateAll(t *testing.T) {
	w := httptest.NewRecorder()

	validators := []Validator{
		func() (bool, string) { return true, "" },
		func() (bool, string) { return false, "validation failed" },
		func() (bool, string) { return true, "" },
	}

	ok := ValidateAll(w, validators...)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation failed")
}

func TestValidateAll_Success(t *testing.T) {
	w := httptest.NewRecorder()

	validators := []Validator{
		func() (bool, string) { return true, "" },
		func() (bool, string) { return true, "" },
	}

	ok := ValidateAll(w, validators...)

	assert.True(t, ok)
}

// TestParseJSONComplexStruct tests parsing into a nested request struct
func TestParseJSONComplexStruct(t *testing.T) {
	type provisionRequest struct {
		IdempotencyKey string                 `json:"idempotency_key"`
		TeamName       string                 `json:"team_name"`
		InitialConfig  map[string]interface{} `json:"initial_config"`
	}

	body := `{"idempotency_key":"key-1","team_name":"checkout","initial_config":{"limits":{"rps":100}}}`
	req := httptest.NewRequest("POST", "/provision", bytes.NewBufferString(body))

	var parsed provisionRequest
	err := ParseJSON(req, &parsed)

	assert.NoError(t, err)
	assert.Equal(t, "key-1", parsed.IdempotencyKey)
	assert.Equal(t, "checkout", parsed.TeamName)
	assert.Contains(t, parsed.InitialConfig, "limits")
}
