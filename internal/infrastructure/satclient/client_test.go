package satclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fiscaldesk/backend/internal/domain/download"
)

func testCredential() download.Credential {
	return download.Credential{
		RFC:          "XAXX010101000",
		SerialNumber: "30001000000400002444",
	}
}

func testQuery() download.Query {
	return download.Query{
		TaxpayerRFC: "XAXX010101000",
		PeriodStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC),
		Kind:        download.KindReceived,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&SATConfig{
		BaseURL:   server.URL,
		UserAgent: "fiscaldesk-test",
		Timeout:   5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return client, server
}

func TestSATConfig_Validate(t *testing.T) {
	assert.NoError(t, NewSATConfig().Validate())
	assert.NoError(t, NewSandboxSATConfig().Validate())
	assert.ErrorIs(t, (&SATConfig{}).Validate(), ErrSATConfigMissingBaseURL)
}

func TestClient_SubmitQuery(t *testing.T) {
	t.Run("returns remote request id on accept", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/solicitudes", r.URL.Path)
			assert.Equal(t, "XAXX010101000", r.Header.Get("X-RFC"))

			var body submitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "recibidos", body.Direction)
			assert.Equal(t, "2025-01-01T00:00:00", body.DateFrom)

			json.NewEncoder(w).Encode(submitResponse{
				RequestID: "SAT-REQ-42",
				Status:    remoteStatusAccepted,
			})
		})

		id, err := client.SubmitQuery(context.Background(), testCredential(), testQuery())
		require.NoError(t, err)
		assert.Equal(t, "SAT-REQ-42", id)
	})

	t.Run("issued direction maps to emitidos", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var body submitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "emitidos", body.Direction)
			json.NewEncoder(w).Encode(submitResponse{RequestID: "SAT-1", Status: remoteStatusAccepted})
		})

		query := testQuery()
		query.Kind = download.KindIssued
		_, err := client.SubmitQuery(context.Background(), testCredential(), query)
		assert.NoError(t, err)
	})

	t.Run("refused query is permanent", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(submitResponse{
				Status:  remoteStatusRejected,
				Message: "rango de fechas excede el permitido",
			})
		})

		_, err := client.SubmitQuery(context.Background(), testCredential(), testQuery())
		require.Error(t, err)
		assert.True(t, download.IsPermanent(err))
	})

	t.Run("5xx is transient", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := client.SubmitQuery(context.Background(), testCredential(), testQuery())
		require.Error(t, err)
		assert.True(t, download.IsTransient(err))
	})

	t.Run("4xx is permanent", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})

		_, err := client.SubmitQuery(context.Background(), testCredential(), testQuery())
		require.Error(t, err)
		assert.True(t, download.IsPermanent(err))
	})

	t.Run("429 is transient", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := client.SubmitQuery(context.Background(), testCredential(), testQuery())
		require.Error(t, err)
		assert.True(t, download.IsTransient(err))
	})

	t.Run("connection refused is transient", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close() // dead endpoint

		client, err := NewClient(&SATConfig{BaseURL: server.URL, Timeout: time.Second}, nil)
		require.NoError(t, err)

		_, err = client.SubmitQuery(context.Background(), testCredential(), testQuery())
		require.Error(t, err)
		assert.True(t, download.IsTransient(err))
	})
}

func TestClient_VerifyStatus(t *testing.T) {
	verifyWith := func(t *testing.T, resp verifyResponse) (download.VerifyResult, error) {
		t.Helper()
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/solicitudes/SAT-REQ-42", r.URL.Path)
			json.NewEncoder(w).Encode(resp)
		})
		return client.VerifyStatus(context.Background(), testCredential(), "SAT-REQ-42")
	}

	t.Run("in progress maps to pending", func(t *testing.T) {
		result, err := verifyWith(t, verifyResponse{Status: remoteStatusInProgress})
		require.NoError(t, err)
		assert.Equal(t, download.VerifyStatePending, result.State)
		assert.Equal(t, "2", result.RemoteStatus)
	})

	t.Run("ready carries package ids", func(t *testing.T) {
		result, err := verifyWith(t, verifyResponse{
			Status:     remoteStatusReady,
			PackageIDs: []string{"pkg-a", "pkg-b"},
		})
		require.NoError(t, err)
		assert.Equal(t, download.VerifyStateReady, result.State)
		assert.Equal(t, []string{"pkg-a", "pkg-b"}, result.PackageIDs)
	})

	t.Run("rejected and error both map to rejected", func(t *testing.T) {
		for _, status := range []string{remoteStatusError, remoteStatusRejected} {
			result, err := verifyWith(t, verifyResponse{Status: status})
			require.NoError(t, err)
			assert.Equal(t, download.VerifyStateRejected, result.State)
		}
	})

	t.Run("expired maps to expired", func(t *testing.T) {
		result, err := verifyWith(t, verifyResponse{Status: remoteStatusExpired})
		require.NoError(t, err)
		assert.Equal(t, download.VerifyStateExpired, result.State)
	})

	t.Run("unknown status is transient", func(t *testing.T) {
		_, err := verifyWith(t, verifyResponse{Status: "99"})
		require.Error(t, err)
		assert.True(t, download.IsTransient(err))
	})
}

func TestClient_FetchPackage(t *testing.T) {
	t.Run("decodes base64 package", func(t *testing.T) {
		payload := []byte("zip-bytes-here")
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/paquetes/pkg-a", r.URL.Path)
			json.NewEncoder(w).Encode(packageResponse{
				Status:  remoteStatusReady,
				Package: base64.StdEncoding.EncodeToString(payload),
			})
		})

		data, err := client.FetchPackage(context.Background(), testCredential(), "pkg-a")
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	})

	t.Run("missing package body is transient", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(packageResponse{Message: "paquete no disponible"})
		})

		_, err := client.FetchPackage(context.Background(), testCredential(), "pkg-a")
		require.Error(t, err)
		assert.True(t, download.IsTransient(err))
	})

	t.Run("invalid base64 is permanent", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(packageResponse{Package: "!!not-base64!!"})
		})

		_, err := client.FetchPackage(context.Background(), testCredential(), "pkg-a")
		require.Error(t, err)
		assert.True(t, download.IsPermanent(err))
	})
}

func TestClient_ContextTimeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(submitResponse{RequestID: "late", Status: remoteStatusAccepted})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.SubmitQuery(ctx, testCredential(), testQuery())
	require.Error(t, err)
	assert.True(t, download.IsTransient(err), "deadline exceeded must be retryable")
}
