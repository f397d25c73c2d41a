package opw

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"

	"bibrenew/lib/htmlutil"
	"bibrenew/lib/session"
	"bibrenew/lib/textutil"
)

type Loan struct {
	Title      string
	Barcode    string
	CanExtend  bool
	ReturnDate string
}

// LoanPage is the result of scraping one load of the account page.
// Token authorizes renewals for this page load only and must never be
// reused across scrapes. An empty Token means the page offered no
// renewal hook, callers treat that as "nothing to renew".
type LoanPage struct {
	Loans []Loan
	Token string
}

// loan rows alternate between two row classes, everything else in the
// table is headers and decoration
const loanRowSelector = "tr.list1, tr.list2"

// label on the renew control in the portal's dutch locale
const renewLabel = "Verlengen"

var renewControlSelector = fmt.Sprintf("input[value=%q]", renewLabel)

var tokenRegex = regexp.MustCompile(`cspHttpServerMethod\(['"]([^'"]+)['"]`)
var loanSeqRegex = regexp.MustCompile(`^[0-9]+$`)

// Loans fetches and scrapes the account page. Malformed rows are
// dropped silently, only a body that cannot be turned into a document
// at all is an error.
func (c *Client) Loans(ctx context.Context) (LoanPage, error) {
	ctx, span := tracer.Start(ctx, "client:Loans")
	defer span.End()

	res, err := c.Session.Do(ctx, session.Request{URL: userInfoPath})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch account page")
		return LoanPage{}, err
	}

	page, err := ParseLoanPage(res.Body())
	if err != nil {
		err = &ParseError{URL: userInfoPath, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse account page")
		return LoanPage{}, err
	}

	slog.DebugContext(
		ctx, "scraped account page",
		"loans", len(page.Loans),
		"token", page.Token != "",
	)
	return page, nil
}

// ParseLoanPage extracts the loan table and action token from the raw
// account page HTML.
func ParseLoanPage(body []byte) (LoanPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return LoanPage{}, err
	}

	// the token lives in inline script text, not in any element
	// attribute, so it is scanned from the raw body
	page := LoanPage{Token: extractToken(body)}

	doc.Find(loanRowSelector).Each(func(_ int, row *goquery.Selection) {
		loan, ok := parseLoanRow(row)
		if ok {
			page.Loans = append(page.Loans, loan)
		}
	})
	return page, nil
}

func extractToken(body []byte) string {
	groups := tokenRegex.FindSubmatch(body)
	if len(groups) < 2 {
		return ""
	}
	return string(groups[1])
}

// parseLoanRow maps one table row onto a Loan. The portal's row shape
// is fixed: cell 1 loan sequence number, cell 2 renew control, cell 3
// title, cell 5 barcode, cell 8 return date. Rows that do not fit the
// shape are not loans.
func parseLoanRow(row *goquery.Selection) (Loan, bool) {
	cells := row.Find("td")
	if cells.Length() < 8 {
		return Loan{}, false
	}

	seq := strings.TrimSpace(htmlutil.GetText(cells.Get(0)))
	if !loanSeqRegex.MatchString(seq) {
		return Loan{}, false
	}

	return Loan{
		Title:      textutil.CollapseSpace(htmlutil.GetText(cells.Get(2))),
		Barcode:    textutil.CollapseSpace(htmlutil.GetText(cells.Get(4))),
		CanExtend:  cells.Eq(1).Find(renewControlSelector).Length() > 0,
		ReturnDate: textutil.CollapseSpace(htmlutil.GetText(cells.Get(7))),
	}, true
}
