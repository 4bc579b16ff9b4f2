package paypal

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultTimeout = 10 * time.Second

	// SandboxBaseURL is the default REST endpoint
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"

	tokenPath  = "/v1/oauth2/token"
	verifyPath = "/v1/notifications/verify-webhook-signature"
)

// Config holds PayPal REST credentials.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Timeout      time.Duration
}

// Client calls the PayPal REST API with an OAuth2 client-credentials token.
// The token is cached and refreshed by the oauth2 token source.
type Client struct {
	baseURL   string
	webhookID string
	timeout   time.Duration
	http      *http.Client
}

// NewClient creates a PayPal client. Every outbound call, token exchange included, is bounded by Timeout.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	base := &http.Client{Timeout: cfg.Timeout, Transport: transport}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// the token source keeps this context for every refresh
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := creds.Client(tokenCtx)
	httpClient.Timeout = cfg.Timeout

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		httpClient = nil
	}

	return &Client{
		baseURL:   baseURL,
		webhookID: cfg.WebhookID,
		timeout:   cfg.Timeout,
		http:      httpClient,
	}
}

func (c *Client) configured() bool {
	return c != nil && c.http != nil && strings.TrimSpace(c.webhookID) != ""
}
