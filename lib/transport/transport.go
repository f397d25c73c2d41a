package transport

import (
	"fmt"
	"net/http"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"bibrenew/lib/telemetry"
)

const (
	// DefaultRetryCount of 5 gives 6 total attempts per request.
	DefaultRetryCount = 5
	DefaultRetryWait  = time.Second
	DefaultTimeout    = time.Second * 30
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// NetworkError reports a request that could not complete after the
// transport exhausted its retries. A response with an HTTP error
// status is not a NetworkError, any response at all counts as a
// completed exchange.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed after retries: %s", e.URL, e.Err.Error())
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// WrapErr wraps a transport failure into a NetworkError. A nil err
// passes through unchanged.
func WrapErr(url string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{URL: url, Err: err}
}

type Options struct {
	BaseURL string
	// RetryCount 0 means DefaultRetryCount. Tests shrink this to keep
	// failure cases fast.
	RetryCount int
	RetryWait  time.Duration
	Timeout    time.Duration
	// CloudflareBypass swaps in a transport that defeats the basic
	// cloudflare browser check, for portals hosted behind it.
	CloudflareBypass bool
	// Output, when set, receives a dump of every exchange made in
	// debug mode.
	Output Output
}

// NewClient builds the resty client every portal exchange runs
// through. Retries wait a fixed interval between attempts: resty
// jitters between wait and max wait, pinning both to the same value
// leaves a constant delay. Only transport failures retry, an HTTP
// error status is a completed exchange and is returned as-is.
// Redirects are never followed so login handshakes can observe 3xx
// responses directly.
func NewClient(opts Options) *resty.Client {
	retryCount := opts.RetryCount
	if retryCount == 0 {
		retryCount = DefaultRetryCount
	}
	retryWait := opts.RetryWait
	if retryWait == 0 {
		retryWait = DefaultRetryWait
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	client := resty.New()
	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(timeout)
	client.SetRetryCount(retryCount)
	client.SetRetryWaitTime(retryWait)
	client.SetRetryMaxWaitTime(retryWait)
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(
		func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	))
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	telemetry.InstrumentResty(client, "lib/transport")
	instrumentClient(client, opts.Output)

	return client
}
