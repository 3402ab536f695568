package mobilemoney

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	ProviderA = "provider-a"
	ProviderB = "provider-b"
)

var (
	ErrGatewayTimeout     = errors.New("mobilemoney: gateway timed out")
	ErrGatewayUnavailable = errors.New("mobilemoney: gateway unavailable")
	ErrGatewayRejected    = errors.New("mobilemoney: gateway rejected the request")
	ErrBadSignature       = errors.New("mobilemoney: callback signature mismatch")
	ErrMalformedCallback  = errors.New("mobilemoney: malformed callback")
)

type IssueRequest struct {
	Amount    int64
	Phone     string // normalised, +CC form
	Reference string // our attempt id; providers dedupe on it
}

type Issued struct {
	ProviderRef string
	DisplayCode string
}

// Callback is a provider's out-of-band report on a transaction.
type Callback struct {
	ProviderRef string
	Success     bool
	// Pending is set for progress notifications that settle nothing.
	Pending bool
}

// Gateway is one mobile-money provider.
type Gateway interface {
	Name() string
	IssueCode(ctx context.Context, req IssueRequest) (Issued, error)
	ConfirmCode(ctx context.Context, providerRef, code string) (bool, error)
	// ParseCallback authenticates and decodes a webhook delivery.
	ParseCallback(h http.Header, body []byte) (Callback, error)
}

// Options configure the shared HTTP client.
type Options struct {
	BaseURL       string
	APIKey        string
	Secret        string
	CallbackToken string
	Timeout       time.Duration
	// IssueRetries bounds retries of IssueCode on unavailable gateways.
	IssueRetries uint64
	RetryBase    time.Duration
	HTTPClient   *http.Client
}

type client struct {
	base    string
	apiKey  string
	http    *http.Client
	retries uint64
	backoff time.Duration
}

func newClient(o Options) *client {
	hc := o.HTTPClient
	if hc == nil {
		timeout := o.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	base := o.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &client{
		base:    strings.TrimRight(o.BaseURL, "/"),
		apiKey:  o.APIKey,
		http:    hc,
		retries: o.IssueRetries,
		backoff: base,
	}
}

// withRetry retries fn while it reports the gateway unavailable.
func (c *client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrGatewayUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classify(err)
	}
	switch {
	case resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrGatewayTimeout, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d", ErrGatewayUnavailable, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s returned %d: %s", ErrGatewayRejected, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrGatewayUnavailable, path, err)
	}
	return nil
}

func classify(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

// New builds the gateway for a provider name.
func New(provider string, o Options) (Gateway, error) {
	switch provider {
	case ProviderA:
		return NewProviderA(o), nil
	case ProviderB:
		return NewProviderB(o), nil
	}
	return nil, fmt.Errorf("mobilemoney: unknown provider %q", provider)
}
