package paypal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"

	"golang.org/x/oauth2"
)

var (
	// ErrNotConfigured is returned when credentials or the webhook id are missing
	ErrNotConfigured = errors.New("paypal client not configured")

	// ErrMissingHeaders is returned when a transmission header is absent
	ErrMissingHeaders = errors.New("missing paypal transmission headers")

	// ErrInvalidBody is returned when the webhook body is not a JSON document
	ErrInvalidBody = errors.New("webhook body is not valid JSON")
)

func classifyRequestError(ctx context.Context, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return fmt.Errorf("paypal token error: status=%d: %w", status, err)
	}
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("paypal verify timeout: %w", err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("paypal verify network error: %w", err)
	}
	return fmt.Errorf("paypal verify request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
