package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/transport"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

func newClient(t *testing.T, url string, tokens transport.TokenSource) *transport.HTTPClient {
	t.Helper()
	return transport.NewHTTPClient(&config.APIConfig{
		BaseURL:   url + "/api",
		Timeout:   5 * time.Second,
		UserAgent: "flightbook-test",
	}, tokens, events.Discard())
}

func TestHTTPClientSendsBearerAndJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/signin", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "flightbook-test", r.Header.Get("User-Agent"))

		var creds models.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "ana", creds.Username)

		_ = json.NewEncoder(w).Encode(models.SessionRecord{Token: "t", Username: "ana"})
	}))
	defer server.Close()

	client := newClient(t, server.URL, staticToken("abc"))

	var record models.SessionRecord
	err := transport.Post(context.Background(), client, "/auth/signin",
		models.Credentials{Username: "ana", Password: "pw"}, &record)

	require.NoError(t, err)
	assert.Equal(t, "ana", record.Username)
}

func TestHTTPClientOmitsBearer(t *testing.T) {
	tests := []struct {
		name   string
		tokens transport.TokenSource
		noAuth bool
	}{
		{name: "no token source"},
		{name: "empty token", tokens: staticToken("")},
		{name: "no auth request", tokens: staticToken("abc"), noAuth: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Empty(t, r.Header.Get("Authorization"))
				w.WriteHeader(http.StatusNoContent)
			}))
			defer server.Close()

			client := newClient(t, server.URL, tt.tokens)
			err := client.Do(context.Background(), &transport.Request{
				Method: http.MethodGet,
				Path:   "/flights",
				NoAuth: tt.noAuth,
			}, nil)
			assert.NoError(t, err)
		})
	}
}

func TestHTTPClientQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ana+1@example.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"message":"sent"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)

	var resp models.MessageResponse
	err := transport.PostPublic(context.Background(), client, "/auth/request-password-reset",
		url.Values{"email": {"ana+1@example.com"}}, nil, &resp)

	require.NoError(t, err)
	assert.Equal(t, "sent", resp.Message)
}

func TestHTTPClientAPIError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantCode    string
	}{
		{
			name:        "json message",
			status:      http.StatusUnauthorized,
			body:        `{"message":"Bad credentials"}`,
			wantMessage: "Bad credentials",
			wantCode:    models.ErrCodeAuth,
		},
		{
			name:        "json error field",
			status:      http.StatusBadRequest,
			body:        `{"error":"Username is already taken"}`,
			wantMessage: "Username is already taken",
			wantCode:    models.ErrCodeValidation,
		},
		{
			name:        "plain text",
			status:      http.StatusInternalServerError,
			body:        "database down\n",
			wantMessage: "database down",
			wantCode:    models.ErrCodeServerError,
		},
		{
			name:        "empty body",
			status:      http.StatusForbidden,
			wantMessage: "Forbidden",
			wantCode:    models.ErrCodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Request-Id", "req-1")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newClient(t, server.URL, nil)
			err := transport.Get(context.Background(), client, "/bookings", nil)

			var apiErr *models.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, "req-1", apiErr.RequestID)
		})
	}
}

func TestHTTPClientNoAutomaticRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	err := transport.Get(context.Background(), client, "/flights", nil)

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestHTTPClientMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)

	var out models.SessionRecord
	err := transport.Get(context.Background(), client, "/flights", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestHTTPClientContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := newClient(t, server.URL, nil)
	err := transport.Get(ctx, client, "/flights", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
