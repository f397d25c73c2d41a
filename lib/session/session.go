package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"bibrenew/lib/cookiestore"
	"bibrenew/lib/transport"
)

// Session pairs one transport client with the cookie state of a
// single portal login. A session belongs to exactly one user run and
// is discarded afterwards, cookies never persist across runs.
type Session struct {
	client  *resty.Client
	cookies *cookiestore.Store
	parser  cookiestore.Parser
}

func New(client *resty.Client) *Session {
	return &Session{
		client:  client,
		cookies: cookiestore.New(),
		parser:  cookiestore.NaiveParser{},
	}
}

// Request describes one exchange. Method defaults to GET. Form, when
// non-nil, is sent as an url-encoded body.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Form   map[string]string
}

// Do issues req with the session's cookies attached and never
// touches the cookie store.
func (s *Session) Do(ctx context.Context, req Request) (*resty.Response, error) {
	return s.issue(ctx, req)
}

// DoAndUpdate issues req like Do, then folds the response's
// Set-Cookie headers back into the store. Updating is opt-in because
// the login handshake depends on controlling exactly which response's
// cookies stick.
func (s *Session) DoAndUpdate(ctx context.Context, req Request) (*resty.Response, error) {
	res, err := s.issue(ctx, req)
	if err != nil {
		return res, err
	}
	s.cookies.Merge(s.parser, joinSetCookie(res.Header()))
	return res, nil
}

// Cookies exposes the session's cookie store. Callers read single
// values out of it, the renewal form carries the session id cookie as
// a form field.
func (s *Session) Cookies() *cookiestore.Store {
	return s.cookies
}

func (s *Session) issue(ctx context.Context, req Request) (*resty.Response, error) {
	r := s.client.R().SetContext(ctx)
	for k, v := range req.Header {
		r.SetHeader(k, v)
	}
	// the Cookie header is always the session's own state, a caller
	// supplied value would desync the store from the portal
	r.SetHeader("Cookie", s.cookies.Render())
	if req.Form != nil {
		r.SetFormData(req.Form)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	res, err := r.Execute(method, req.URL)
	return res, transport.WrapErr(req.URL, err)
}

// the portal is scraped through a joined view of all Set-Cookie
// headers, the naive parser splits the combined string back apart
func joinSetCookie(h http.Header) string {
	return strings.Join(h.Values("Set-Cookie"), ", ")
}
