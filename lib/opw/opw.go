// Package opw is a client for Vubis-style web OPACs served as
// InterSystems CSP pages under /opw/OPW/. The portal has no API, every
// operation works by replaying the exchanges a browser would make.
package opw

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"bibrenew/lib/session"
	"bibrenew/lib/transport"
)

var tracer = otel.Tracer("lib/opw")

const (
	loginPath    = "/opw/OPW/OPWUSERLOGIN.CSP"
	userInfoPath = "/opw/OPW/OPWUSERINFO.CSP"
	brokerPath   = "/opw/OPW/%25CSP.Broker.cls"
)

// the portal's session cookie, its value doubles as the first
// positional argument of the renewal hyperevent
const sessionCookieName = "SID"

// server-side method name invoked by the renewal hyperevent
const renewOperation = "RenewLoan"

// DefaultRenewDelay spaces consecutive renewal submissions, the
// portal is rate sensitive.
const DefaultRenewDelay = time.Second

// ParseError reports a loan page whose HTML could not be parsed into
// a document at all. A missing token or a skipped row is expected
// page content, not a ParseError.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %s", e.URL, e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Client struct {
	BaseUrl *url.URL
	Session *session.Session

	cardNumber string
	password   string
	renewDelay time.Duration
}

type ClientOptions struct {
	BaseUrl    string
	CardNumber string
	Password   string
	// RenewDelay overrides DefaultRenewDelay when positive. Tests
	// shrink it, production leaves it alone.
	RenewDelay time.Duration
	// Transport tunes the retry policy, timeout and exchange dumps.
	// Its BaseURL is derived from BaseUrl.
	Transport transport.Options
}

// NewClient builds a client around a fresh session. One client serves
// exactly one user for one run, cookie state never outlives it.
func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	renewDelay := opts.RenewDelay
	if renewDelay == 0 {
		renewDelay = DefaultRenewDelay
	}

	topts := opts.Transport
	topts.BaseURL = opts.BaseUrl

	c := &Client{
		BaseUrl:    baseUrl,
		Session:    session.New(transport.NewClient(topts)),
		cardNumber: opts.CardNumber,
		password:   opts.Password,
		renewDelay: renewDelay,
	}
	return c, nil
}

// Login runs the portal's three-step handshake, strictly in order,
// without inspecting any response body. Success shows up implicitly
// when the loan page scrape yields rows, the portal reports nothing
// usable here.
func (c *Client) Login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	form := map[string]string{
		"usercardno": c.cardNumber,
		"userpasswd": c.password,
	}

	// step 1 seeds the session cookie
	_, err := c.Session.DoAndUpdate(ctx, session.Request{URL: loginPath})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}

	// step 2: the intermediate response carries a stale session id
	// that must not clobber the cookie from step 1
	_, err = c.Session.Do(ctx, session.Request{
		Method: http.MethodPost,
		URL:    loginPath,
		Form:   form,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit credentials")
		return err
	}

	// step 3: the identical submission now yields the authenticated
	// session cookie
	_, err = c.Session.DoAndUpdate(ctx, session.Request{
		Method: http.MethodPost,
		URL:    loginPath,
		Form:   form,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to confirm credentials")
		return err
	}

	return nil
}

// Extend submits one renewal as a CSP hyperevent. The reported bool
// is HTTP-level success only, the portal does not say whether the
// renewal took effect server-side. Every call pauses RenewDelay
// before returning to space consecutive submissions.
func (c *Client) Extend(ctx context.Context, token, barcode string) (bool, error) {
	ctx, span := tracer.Start(ctx, "client:Extend")
	defer span.End()

	res, err := c.Session.Do(ctx, session.Request{
		Method: http.MethodPost,
		URL:    brokerPath,
		Form: map[string]string{
			"WARGC":  "8",
			"WEVENT": token,
			"WARG_1": c.Session.Cookies().Get(sessionCookieName),
			"WARG_2": renewOperation,
			"WARG_3": barcode,
			"WARG_4": "",
			"WARG_5": "",
			"WARG_6": "",
			"WARG_7": "",
			"WARG_8": "",
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit renewal")
		return false, err
	}

	time.Sleep(c.renewDelay)
	return res.IsSuccess(), nil
}
