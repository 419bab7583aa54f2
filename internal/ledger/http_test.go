package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientExecute(t *testing.T) {
	client := NewHTTPClient("http://ledger.local/", time.Second)
	client.httpClient = newTestClient(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		var req SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "att-1", req.IdempotencyKey)
		assert.Equal(t, int64(60000), req.ValidDurationMs)

		body := `{"transactionId":"` + req.TransactionID + `","sequenceNumber":7,"committedAt":"2026-05-01T12:00:00Z"}`
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}, nil
	})

	receipt, err := client.Execute(context.Background(), &Transaction{ID: "tx-1", IdempotencyKey: "att-1", Message: []byte("{}"), ValidStart: time.Now(), ValidDuration: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", receipt.TransactionID)
	assert.Equal(t, uint64(7), receipt.SequenceNumber)
}

func TestHTTPClientMapsExpiry(t *testing.T) {
	client := NewHTTPClient("http://ledger.local", time.Second)
	client.httpClient = newTestClient(func(r *http.Request) (*http.Response, error) {
		body := `{"code":"TRANSACTION_EXPIRED","message":"valid window closed"}`
		return &http.Response{StatusCode: http.StatusConflict, Status: "409 Conflict", Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}, nil
	})

	_, err := client.Execute(context.Background(), &Transaction{ID: "tx-1"})
	assert.ErrorIs(t, err, ErrTransactionExpired)
}

func TestHTTPClientOtherFailureIsNotExpiry(t *testing.T) {
	client := NewHTTPClient("http://ledger.local", time.Second)
	client.httpClient = newTestClient(func(r *http.Request) (*http.Response, error) {
		body := `{"code":"INVALID_SIGNATURE","message":"bad payer"}`
		return &http.Response{StatusCode: http.StatusUnauthorized, Status: "401 Unauthorized", Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}, nil
	})

	_, err := client.Execute(context.Background(), &Transaction{ID: "tx-1"})
	require.Error(t, err)
	assert.False(t, IsExpired(err))
	assert.Contains(t, err.Error(), "INVALID_SIGNATURE")
}

type stubTransport func(*http.Request) (*http.Response, error)

func (f stubTransport) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func newTestClient(fn func(*http.Request) (*http.Response, error)) *http.Client {
	return &http.Client{Transport: stubTransport(fn)}
}
