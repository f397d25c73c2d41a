package renewal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bibrenew/lib/notify"
	"bibrenew/lib/runstore"
	"bibrenew/lib/telemetry"
	"bibrenew/lib/transport"
)

type extendCall struct {
	SessionID string
	Token     string
	Barcode   string
}

// fakeLibrary serves the portal endpoints for any number of accounts,
// keyed by card number. Logins hand out a session id derived from the
// card so tests can detect cross-user cookie contamination.
type fakeLibrary struct {
	mu sync.Mutex

	pages       map[string]string
	abortLogin  map[string]bool
	abortRenew  map[string]bool
	rejectRenew map[string]bool

	extends []extendCall
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{
		pages:       map[string]string{},
		abortLogin:  map[string]bool{},
		abortRenew:  map[string]bool{},
		rejectRenew: map[string]bool{},
	}
}

// abort drops the connection without writing a response, the client
// observes a transport failure rather than an http status.
func abort(w http.ResponseWriter) {
	conn, _, err := w.(http.Hijacker).Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

func (l *fakeLibrary) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case r.URL.Path == "/opw/OPW/OPWUSERLOGIN.CSP" && r.Method == http.MethodGet:
		w.Header().Set("Set-Cookie", "SID=anonymous; path=/")
	case r.URL.Path == "/opw/OPW/OPWUSERLOGIN.CSP" && r.Method == http.MethodPost:
		r.ParseForm()
		card := r.PostForm.Get("usercardno")
		if l.abortLogin[card] {
			abort(w)
			return
		}
		w.Header().Set("Set-Cookie", "SID=auth-"+card+"; path=/")
	case r.URL.Path == "/opw/OPW/OPWUSERINFO.CSP":
		card := strings.TrimPrefix(r.Header.Get("Cookie"), "SID=auth-")
		page := l.pages[card]
		if page == "" {
			page = "<html><body></body></html>"
		}
		w.Write([]byte(page))
	case r.URL.Path == "/opw/OPW/%CSP.Broker.cls":
		r.ParseForm()
		barcode := r.PostForm.Get("WARG_3")
		if l.abortRenew[barcode] {
			abort(w)
			return
		}
		l.extends = append(l.extends, extendCall{
			SessionID: r.PostForm.Get("WARG_1"),
			Token:     r.PostForm.Get("WEVENT"),
			Barcode:   barcode,
		})
		if l.rejectRenew[barcode] {
			w.WriteHeader(http.StatusInternalServerError)
		}
	default:
		http.NotFound(w, r)
	}
}

func serveLibrary(t *testing.T, library *fakeLibrary) string {
	server := httptest.NewServer(library)
	t.Cleanup(server.Close)
	return server.URL
}

func loanRow(seq, title, barcode, date string, renewable bool) string {
	control := ""
	if renewable {
		control = `<input type="button" value="Verlengen">`
	}
	return fmt.Sprintf(
		`<tr class="list1"><td>%s</td><td>%s</td><td>%s</td><td>Auteur</td><td>%s</td><td>Boek</td><td>01/08/2026</td><td>%s</td></tr>`,
		seq, control, title, barcode, date,
	)
}

func loanPage(token string, rows ...string) string {
	script := ""
	if token != "" {
		script = fmt.Sprintf(`<script>var ret=cspHttpServerMethod('%s',barcode);</script>`, token)
	}
	return "<html><head>" + script + "</head><body><table>" +
		strings.Join(rows, "\n") + "</table></body></html>"
}

func testOptions(url string, users ...User) Options {
	return Options{
		BaseUrl:    url,
		Users:      users,
		RenewDelay: time.Millisecond,
		Transport: transport.Options{
			RetryCount: 1,
			RetryWait:  time.Millisecond,
		},
	}
}

func TestRunTwoUsersEndToEnd(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:renewal")
	defer cleanup()

	library := newFakeLibrary()
	library.pages["11112222"] = loanPage("TOK1",
		loanRow("1", "De ontdekking van de hemel", "BC100", "29/08/2026", true),
		loanRow("2", "Het verdriet van België", "BC200", "05/09/2026", false),
	)
	library.abortLogin["33334444"] = true
	url := serveLibrary(t, library)

	runner := NewRunner(testOptions(url,
		User{Name: "alice", CardNumber: "11112222", Password: "pw1"},
		User{Name: "bob", CardNumber: "33334444", Password: "pw2"},
	), nil, nil)
	report := runner.Run(context.Background())

	require.Len(t, report.Sections, 2)
	require.Equal(t, "alice", report.Sections[0].Label)
	require.Equal(t, "bob", report.Sections[1].Label)

	// only the renewable row is submitted, exactly once
	require.Equal(t, []extendCall{{
		SessionID: "auth-11112222",
		Token:     "TOK1",
		Barcode:   "BC100",
	}}, library.extends)

	require.Len(t, report.Sections[0].Lines, 1)
	require.Contains(t, report.Sections[0].Lines[0], "✅")
	require.Contains(t, report.Sections[0].Lines[0], "De ontdekking van de hemel")
	require.Contains(t, report.Sections[0].Lines[0], "29/08/2026")

	require.Len(t, report.Sections[1].Lines, 1)
	require.Contains(t, report.Sections[1].Lines[0], "⚠️")

	text := report.Text()
	require.Less(t, strings.Index(text, "alice"), strings.Index(text, "bob"))
}

func TestRenewalFailureIsolatedPerUser(t *testing.T) {
	library := newFakeLibrary()
	library.pages["11112222"] = loanPage("TOKA",
		loanRow("1", "Eerste boek", "BCA1", "29/08/2026", true),
		loanRow("2", "Tweede boek", "BCA2", "30/08/2026", true),
	)
	library.pages["33334444"] = loanPage("TOKB",
		loanRow("1", "Derde boek", "BCB1", "31/08/2026", true),
	)
	library.abortRenew["BCA1"] = true
	url := serveLibrary(t, library)

	runner := NewRunner(testOptions(url,
		User{Name: "alice", CardNumber: "11112222", Password: "pw1"},
		User{Name: "bob", CardNumber: "33334444", Password: "pw2"},
	), nil, nil)
	report := runner.Run(context.Background())

	require.Len(t, report.Sections, 2)

	// alice's first renewal dies on the wire, which truncates her
	// remaining renewals
	require.Len(t, report.Sections[0].Lines, 1)
	require.Contains(t, report.Sections[0].Lines[0], "⚠️")

	// bob still runs to completion on his own session
	require.Len(t, report.Sections[1].Lines, 1)
	require.Contains(t, report.Sections[1].Lines[0], "✅")
	require.Contains(t, report.Sections[1].Lines[0], "Derde boek")

	require.Equal(t, []extendCall{{
		SessionID: "auth-33334444",
		Token:     "TOKB",
		Barcode:   "BCB1",
	}}, library.extends)
}

func TestNoEligibleLoans(t *testing.T) {
	library := newFakeLibrary()
	library.pages["11112222"] = loanPage("TOK",
		loanRow("1", "Een boek", "BC1", "29/08/2026", false),
	)
	url := serveLibrary(t, library)

	runner := NewRunner(testOptions(url, User{CardNumber: "11112222", Password: "pw"}), nil, nil)
	report := runner.Run(context.Background())

	require.Len(t, report.Sections, 1)
	require.Equal(t, []string{"no eligible loans"}, report.Sections[0].Lines)
	require.Empty(t, library.extends)
}

func TestMissingTokenSkipsRenewals(t *testing.T) {
	library := newFakeLibrary()
	library.pages["11112222"] = loanPage("",
		loanRow("1", "Een boek", "BC1", "29/08/2026", true),
	)
	url := serveLibrary(t, library)

	runner := NewRunner(testOptions(url, User{CardNumber: "11112222", Password: "pw"}), nil, nil)
	report := runner.Run(context.Background())

	require.Len(t, report.Sections, 1)
	require.Len(t, report.Sections[0].Lines, 1)
	require.Contains(t, report.Sections[0].Lines[0], "no renew token")
	require.Empty(t, library.extends)
}

func TestRejectedRenewalReported(t *testing.T) {
	library := newFakeLibrary()
	library.pages["11112222"] = loanPage("TOK",
		loanRow("1", "Een boek", "BC1", "29/08/2026", true),
	)
	library.rejectRenew["BC1"] = true
	url := serveLibrary(t, library)

	runner := NewRunner(testOptions(url, User{Name: "alice", CardNumber: "11112222", Password: "pw"}), nil, nil)
	report := runner.Run(context.Background())

	require.Len(t, report.Sections[0].Lines, 1)
	require.Contains(t, report.Sections[0].Lines[0], "❌")
	require.Equal(t, []runstore.Outcome{{
		User:    "alice",
		Title:   "Een boek",
		Barcode: "BC1",
		Renewed: false,
		Note:    "portal rejected the renewal",
	}}, report.Sections[0].Outcomes)
}

func TestOnlyTitleFilter(t *testing.T) {
	library := newFakeLibrary()
	library.pages["11112222"] = loanPage("TOK",
		loanRow("1", "De ontdekking van de hemel", "BC1", "29/08/2026", true),
		loanRow("2", "Het verdriet van België", "BC2", "30/08/2026", true),
	)
	url := serveLibrary(t, library)

	options := testOptions(url, User{CardNumber: "11112222", Password: "pw"})
	options.OnlyTitle = "ontdekking"
	report := NewRunner(options, nil, nil).Run(context.Background())

	require.Len(t, library.extends, 1)
	require.Equal(t, "BC1", library.extends[0].Barcode)
	require.Len(t, report.Sections[0].Lines, 1)
	require.Contains(t, report.Sections[0].Lines[0], "De ontdekking van de hemel")
}

func TestMatchesTitle(t *testing.T) {
	cases := []struct {
		name   string
		title  string
		filter string
		expect bool
	}{
		{
			name:   "case and spacing insensitive substring",
			title:  "De Ontdekking  van de Hemel",
			filter: "de ontdekking",
			expect: true,
		},
		{
			name:   "fuzzy match tolerates a typo",
			title:  "De ontdekking van de hemel",
			filter: "de ontdeking van de hemel",
			expect: true,
		},
		{
			name:   "unrelated title",
			title:  "Het verdriet van België",
			filter: "ontdekking",
			expect: false,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expect, matchesTitle(test.title, test.filter))
		})
	}
}

type recordingSink struct {
	mu    sync.Mutex
	texts []string
	fail  bool
}

func (s *recordingSink) Name() string {
	return "recording"
}

func (s *recordingSink) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.texts = append(s.texts, text)
	return nil
}

func TestRunDeliversReportToSinks(t *testing.T) {
	library := newFakeLibrary()
	library.pages["11112222"] = loanPage("TOK",
		loanRow("1", "Een boek", "BC1", "29/08/2026", true),
	)
	url := serveLibrary(t, library)

	working := &recordingSink{}
	broken := &recordingSink{fail: true}
	runner := NewRunner(
		testOptions(url, User{Name: "alice", CardNumber: "11112222", Password: "pw"}),
		[]notify.Sink{broken, working},
		nil,
	)
	report := runner.Run(context.Background())

	// the broken sink is logged and skipped, delivery still reaches
	// the working one
	require.Equal(t, []string{report.Text()}, working.texts)
	require.Contains(t, report.Text(), "alice")
}

func TestRunRecordsHistory(t *testing.T) {
	library := newFakeLibrary()
	library.pages["11112222"] = loanPage("TOK",
		loanRow("1", "Een boek", "BC1", "29/08/2026", true),
	)
	url := serveLibrary(t, library)

	database, err := runstore.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer database.Close()
	store := runstore.NewStore(database)

	runner := NewRunner(
		testOptions(url, User{Name: "alice", CardNumber: "11112222", Password: "pw"}),
		nil,
		&store,
	)
	report := runner.Run(context.Background())

	runs, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, report.ID, runs[0].ID)
	require.Equal(t, report.Text(), runs[0].Report)
	require.Equal(t, []runstore.Outcome{{
		User:    "alice",
		Title:   "Een boek",
		Barcode: "BC1",
		Renewed: true,
	}}, runs[0].Outcomes)
}

func TestUserLabel(t *testing.T) {
	require.Equal(t, "alice", User{Name: "alice", CardNumber: "12345678"}.Label())
	require.Equal(t, "****5678", User{CardNumber: "12345678"}.Label())
	require.Equal(t, "123", User{CardNumber: "123"}.Label())
}
