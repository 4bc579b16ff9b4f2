package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mwork/ledger-api/internal/pkg/errorhandler"
)

// Transmission header names sent with every PayPal webhook delivery.
const (
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
)

const verificationSuccess = "SUCCESS"

// Transmission carries the signature headers of one delivery.
type Transmission struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// TransmissionFromHeader extracts the signature headers, failing if any is empty.
func TransmissionFromHeader(h http.Header) (Transmission, error) {
	t := Transmission{
		AuthAlgo:         strings.TrimSpace(h.Get(HeaderAuthAlgo)),
		CertURL:          strings.TrimSpace(h.Get(HeaderCertURL)),
		TransmissionID:   strings.TrimSpace(h.Get(HeaderTransmissionID)),
		TransmissionSig:  strings.TrimSpace(h.Get(HeaderTransmissionSig)),
		TransmissionTime: strings.TrimSpace(h.Get(HeaderTransmissionTime)),
	}
	if t.AuthAlgo == "" || t.CertURL == "" || t.TransmissionID == "" || t.TransmissionSig == "" || t.TransmissionTime == "" {
		return Transmission{}, ErrMissingHeaders
	}
	return t, nil
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// Verify asks PayPal whether the delivery is authentic. It fails closed:
// any missing header, token failure, network error, timeout or non-2xx status yields false.
func (c *Client) Verify(ctx context.Context, header http.Header, body []byte) (bool, error) {
	if !c.configured() {
		return false, ErrNotConfigured
	}

	t, err := TransmissionFromHeader(header)
	if err != nil {
		return false, err
	}
	if !json.Valid(body) {
		return false, ErrInvalidBody
	}

	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	err = enc.Encode(verifyRequest{
		AuthAlgo:         t.AuthAlgo,
		CertURL:          t.CertURL,
		TransmissionID:   t.TransmissionID,
		TransmissionSig:  t.TransmissionSig,
		TransmissionTime: t.TransmissionTime,
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(body),
	})
	if err != nil {
		return false, fmt.Errorf("paypal verify request error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, &payload)
	if err != nil {
		return false, fmt.Errorf("paypal verify request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return false, classifyRequestError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("paypal verify http error: status=%d body=%s", resp.StatusCode, truncate(string(respBody), 512))
		errorhandler.LogExternalServiceError(ctx, "paypal", verifyPath, resp.StatusCode, err)
		return false, err
	}

	var out verifyResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return false, fmt.Errorf("paypal verify decode error: %w", err)
	}

	return out.VerificationStatus == verificationSuccess, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "...<truncated>"
	}
	return s
}
