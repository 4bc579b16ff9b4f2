package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEvent = `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1"}}`

func signedHeader() http.Header {
	h := http.Header{}
	h.Set(HeaderAuthAlgo, "SHA256withRSA")
	h.Set(HeaderCertURL, "https://api.sandbox.paypal.com/v1/notifications/certs/CERT-360caa42")
	h.Set(HeaderTransmissionID, "69cd13f0-d67a-11e5-baa3-778b53f4ae55")
	h.Set(HeaderTransmissionSig, "lmI95Jx3Y9nhR5SJWlHVIWpg4AgFk7n9bCHSRxbrd8A9zrhdu2rMyFrmz+Zjh3s3boXB07VXCXUZy/UFzUlnGJn0wDugt7FlSvdKeIJenLRemUxYCPVoEZzg9VFNqOa48gMkvF+XTpxBeUx/kWy6B5cp7GkT2+pOowfRK7OaynuxUoKW3JcMWw272VKjLTtTAShncla7tGF+55rxyt2KNZIIqxNMJ48RDZheGU5w1npu9dZHnPgTXB9iomeVRoD8O/jhRpnKsGrDschyNdkeh81BJJMH4Ctc6lnCCquoP/GzCzz33MMsNdid7vL/NIWaCsekQpW26FpWPi/tfj8nLA==")
	h.Set(HeaderTransmissionTime, "2026-02-18T20:01:35Z")
	return h
}

type fakePayPal struct {
	server     *httptest.Server
	tokenCalls atomic.Int32
	mu         sync.Mutex
	lastVerify verifyRequest
	status     string
	httpStatus int
	delay      time.Duration
}

func newFakePayPal(t *testing.T) *fakePayPal {
	f := &fakePayPal{status: "SUCCESS", httpStatus: http.StatusOK}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client-id" || pass != "client-secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			f.tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`))
		case verifyPath:
			if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-r.Context().Done():
					return
				}
			}
			var in verifyRequest
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.lastVerify = in
			f.mu.Unlock()
			w.WriteHeader(f.httpStatus)
			_, _ = w.Write([]byte(`{"verification_status":"` + f.status + `"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePayPal) client(timeout time.Duration) *Client {
	return NewClient(Config{
		BaseURL:      f.server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookID:    "WH-CONFIGURED",
		Timeout:      timeout,
	})
}

func TestVerifySuccess(t *testing.T) {
	f := newFakePayPal(t)
	c := f.client(time.Second)

	ok, err := c.Verify(context.Background(), signedHeader(), []byte(testEvent))
	require.NoError(t, err)
	assert.True(t, ok)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "WH-CONFIGURED", f.lastVerify.WebhookID)
	assert.Equal(t, "SHA256withRSA", f.lastVerify.AuthAlgo)
	assert.JSONEq(t, testEvent, string(f.lastVerify.WebhookEvent))
}

func TestVerifyCachesToken(t *testing.T) {
	f := newFakePayPal(t)
	c := f.client(time.Second)

	for i := 0; i < 3; i++ {
		ok, err := c.Verify(context.Background(), signedHeader(), []byte(testEvent))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestVerifyFailureStatus(t *testing.T) {
	f := newFakePayPal(t)
	f.status = "FAILURE"

	ok, err := f.client(time.Second).Verify(context.Background(), signedHeader(), []byte(testEvent))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyHTTPErrorFailsClosed(t *testing.T) {
	f := newFakePayPal(t)
	f.httpStatus = http.StatusInternalServerError

	ok, err := f.client(time.Second).Verify(context.Background(), signedHeader(), []byte(testEvent))
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "status=500")
}

func TestVerifyTimeoutFailsClosed(t *testing.T) {
	f := newFakePayPal(t)
	f.delay = time.Second

	start := time.Now()
	ok, err := f.client(50*time.Millisecond).Verify(context.Background(), signedHeader(), []byte(testEvent))
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestVerifyTokenFailureFailsClosed(t *testing.T) {
	f := newFakePayPal(t)
	c := NewClient(Config{
		BaseURL:      f.server.URL,
		ClientID:     "client-id",
		ClientSecret: "wrong",
		WebhookID:    "WH-CONFIGURED",
		Timeout:      time.Second,
	})

	ok, err := c.Verify(context.Background(), signedHeader(), []byte(testEvent))
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "token")
}

func TestVerifyMissingHeaders(t *testing.T) {
	f := newFakePayPal(t)
	h := signedHeader()
	h.Del(HeaderTransmissionSig)

	ok, err := f.client(time.Second).Verify(context.Background(), h, []byte(testEvent))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrMissingHeaders))
	assert.Equal(t, int32(0), f.tokenCalls.Load())
}

func TestVerifyInvalidBody(t *testing.T) {
	f := newFakePayPal(t)

	ok, err := f.client(time.Second).Verify(context.Background(), signedHeader(), []byte("not json"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidBody)
}

func TestVerifyNotConfigured(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})

	ok, err := c.Verify(context.Background(), signedHeader(), []byte(testEvent))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNetworkErrorClassified(t *testing.T) {
	c := NewClient(Config{
		BaseURL:      "http://127.0.0.1:1",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookID:    "WH-CONFIGURED",
		Timeout:      time.Second,
	})

	ok, err := c.Verify(context.Background(), signedHeader(), []byte(testEvent))
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(err.Error(), "paypal"))
}
