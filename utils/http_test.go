package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"message": "test"}

		err := WriteJSON(w, http.StatusOK, data)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusNoContent, nil)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteSuccess(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, interface{}) error
		status int
	}{
		{"ok", WriteOK, http.StatusOK},
		{"created", WriteCreated, http.StatusCreated},
		{"accepted", WriteAccepted, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			err := tt.write(w, map[string]string{"result": "success"})
			require.NoError(t, err)
			assert.Equal(t, tt.status, w.Code)

			var response SuccessResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			dataMap := response.Data.(map[string]interface{})
			assert.Equal(t, "success", dataMap["result"])
		})
	}
}

func TestWriteClientErrors(t *testing.T) {
	tests := []struct {
		name        string
		write       func(http.ResponseWriter) error
		status      int
		wantError   string
		wantMessage string
	}{
		{
			name:        "bad request",
			write:       func(w http.ResponseWriter) error { return WriteBadRequest(w, "Invalid input", nil) },
			status:      http.StatusBadRequest,
			wantError:   "bad_request",
			wantMessage: "Invalid input",
		},
		{
			name:        "unauthorized default message",
			write:       func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			status:      http.StatusUnauthorized,
			wantError:   "unauthorized",
			wantMessage: "Authentication required",
		},
		{
			name:        "forbidden default message",
			write:       func(w http.ResponseWriter) error { return WriteForbidden(w, "") },
			status:      http.StatusForbidden,
			wantError:   "forbidden",
			wantMessage: "Access forbidden",
		},
		{
			name:        "not found custom message",
			write:       func(w http.ResponseWriter) error { return WriteNotFound(w, "Record not found") },
			status:      http.StatusNotFound,
			wantError:   "not_found",
			wantMessage: "Record not found",
		},
		{
			name:        "internal error default message",
			write:       func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			status:      http.StatusInternalServerError,
			wantError:   "internal_error",
			wantMessage: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			require.NoError(t, tt.write(w))
			assert.Equal(t, tt.status, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantError, response.Error)
			assert.Equal(t, tt.wantMessage, response.Message)
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedError string
	}{
		{"bad request", http.StatusBadRequest, "bad_request"},
		{"unauthorized", http.StatusUnauthorized, "unauthorized"},
		{"forbidden", http.StatusForbidden, "forbidden"},
		{"not found", http.StatusNotFound, "not_found"},
		{"unprocessable", http.StatusUnprocessableEntity, "malformed"},
		{"service unavailable", http.StatusServiceUnavailable, "unavailable"},
		{"gateway timeout", http.StatusGatewayTimeout, "timeout"},
		{"internal error", http.StatusInternalServerError, "internal_error"},
		{"unknown status", http.StatusTeapot, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			err := WriteError(w, tt.status, "Test message", map[string]interface{}{"k": "v"})
			require.NoError(t, err)

			assert.Equal(t, tt.status, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
			assert.Equal(t, "Test message", response.Message)
			assert.Equal(t, "v", response.Details["k"])
		})
	}
}

func TestWriteErrorType(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteErrorType(w, http.StatusServiceUnavailable, "sink_unavailable", "Audit sink unavailable", nil))

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "sink_unavailable", response.Error)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Principal string `json:"principal"`
		Wait      bool   `json:"wait"`
	}

	tests := []struct {
		name    string
		body    string
		want    payload
		wantErr bool
	}{
		{"valid", `{"principal":"alice","wait":true}`, payload{Principal: "alice", Wait: true}, false},
		{"empty body", ``, payload{}, false},
		{"unknown field", `{"principal":"alice","role":"admin"}`, payload{}, true},
		{"malformed", `{"principal":`, payload{}, true},
		{"trailing data", `{"principal":"a"}{"principal":"b"}`, payload{}, true},
		{"too large", `{"principal":"` + strings.Repeat("a", 100) + `"}`, payload{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var got payload
			err := DecodeJSON(req, &got, 64)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
