// Package renewal drives renewal runs: per user, log in on a fresh
// session, scrape the loan table, submit a renewal per eligible loan
// and accumulate a report section. A user's failure becomes report
// content, never an error, so one bad account cannot block the rest
// of the run.
package renewal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bibrenew/lib/notify"
	"bibrenew/lib/opw"
	"bibrenew/lib/runstore"
	"bibrenew/lib/textutil"
	"bibrenew/lib/timezone"
	"bibrenew/lib/transport"
)

var tracer = otel.Tracer("lib/renewal")

type User struct {
	// Name is an optional display label for report sections. When
	// empty, sections fall back to the masked card number.
	Name       string
	CardNumber string
	Password   string
}

func (u User) Label() string {
	if u.Name != "" {
		return u.Name
	}
	card := u.CardNumber
	if len(card) <= 4 {
		return card
	}
	return strings.Repeat("*", len(card)-4) + card[len(card)-4:]
}

type Options struct {
	BaseUrl string
	Users   []User
	// OnlyTitle restricts renewals to loans whose title matches it,
	// by normalized substring or close fuzzy similarity.
	OnlyTitle string
	// RenewDelay and Transport are handed to each user's portal
	// client unchanged.
	RenewDelay time.Duration
	Transport  transport.Options
}

type Runner struct {
	options Options
	sinks   []notify.Sink
	store   *runstore.Store
}

// NewRunner wires a runner. sinks may be empty and store may be nil,
// delivery and history are both optional.
func NewRunner(options Options, sinks []notify.Sink, store *runstore.Store) Runner {
	return Runner{
		options: options,
		sinks:   sinks,
		store:   store,
	}
}

// Run processes every configured user strictly in order and returns
// the combined report. Persisting history and delivering to sinks are
// best effort, failures there are logged and swallowed.
func (r Runner) Run(ctx context.Context) Report {
	ctx, span := tracer.Start(ctx, "runner:Run")
	defer span.End()

	report := Report{StartedAt: timezone.Now()}
	report.ID = runstore.NewRunID(report.StartedAt)

	for _, user := range r.options.Users {
		report.Sections = append(report.Sections, r.RunUser(ctx, user))
	}
	slog.InfoContext(ctx, "run finished", "id", report.ID, "users", len(report.Sections))

	r.persist(ctx, report)
	r.deliver(ctx, report.Text())
	return report
}

// RunUser processes one user on a fresh, isolated session. It always
// returns a report section: any failure truncates the remaining steps
// for this user and becomes a single warning line.
func (r Runner) RunUser(ctx context.Context, user User) UserReport {
	ctx, span := tracer.Start(ctx, "runner:RunUser")
	defer span.End()
	span.SetAttributes(attribute.String("user", user.Label()))

	report := UserReport{Label: user.Label()}

	client, err := opw.NewClient(opw.ClientOptions{
		BaseUrl:    r.options.BaseUrl,
		CardNumber: user.CardNumber,
		Password:   user.Password,
		RenewDelay: r.options.RenewDelay,
		Transport:  r.options.Transport,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create portal client")
		slog.WarnContext(ctx, "failed to create portal client", "user", report.Label, "err", err)
		report.Lines = append(report.Lines, failLine(err))
		return report
	}

	err = client.Login(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		slog.WarnContext(ctx, "login failed", "user", report.Label, "err", err)
		report.Lines = append(report.Lines, failLine(err))
		return report
	}

	page, err := client.Loans(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loan scrape failed")
		slog.WarnContext(ctx, "loan scrape failed", "user", report.Label, "err", err)
		report.Lines = append(report.Lines, failLine(err))
		return report
	}

	eligible := r.eligible(page.Loans)
	if len(eligible) == 0 {
		report.Lines = append(report.Lines, "no eligible loans")
		return report
	}
	if page.Token == "" {
		// the broker rejects every hyperevent that lacks the script token
		slog.WarnContext(ctx, "loan page carries no renew token", "user", report.Label)
		report.Lines = append(report.Lines, "⚠️ no renew token on the loan page, renewals skipped")
		return report
	}

	for _, loan := range eligible {
		renewed, err := client.Extend(ctx, page.Token, loan.Barcode)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "renewal failed")
			slog.WarnContext(ctx, "renewal failed", "user", report.Label, "barcode", loan.Barcode, "err", err)
			report.Lines = append(report.Lines, failLine(err))
			return report
		}

		glyph := "✅"
		note := ""
		if !renewed {
			glyph = "❌"
			note = "portal rejected the renewal"
		}
		report.Lines = append(report.Lines, fmt.Sprintf("%s %s (%s)", glyph, loan.Title, loan.ReturnDate))
		report.Outcomes = append(report.Outcomes, runstore.Outcome{
			User:    report.Label,
			Title:   loan.Title,
			Barcode: loan.Barcode,
			Renewed: renewed,
			Note:    note,
		})
	}
	return report
}

func (r Runner) eligible(loans []opw.Loan) []opw.Loan {
	var out []opw.Loan
	for _, loan := range loans {
		if !loan.CanExtend {
			continue
		}
		if r.options.OnlyTitle != "" && !matchesTitle(loan.Title, r.options.OnlyTitle) {
			continue
		}
		out = append(out, loan)
	}
	return out
}

const titleSimilarity = 0.88

func matchesTitle(title, filter string) bool {
	title = textutil.NormalizeTitle(title)
	filter = textutil.NormalizeTitle(filter)
	if strings.Contains(title, filter) {
		return true
	}
	return matchr.JaroWinkler(title, filter, false) >= titleSimilarity
}

func (r Runner) persist(ctx context.Context, report Report) {
	if r.store == nil {
		return
	}

	run := runstore.Run{
		ID:        report.ID,
		StartedAt: report.StartedAt,
		Report:    report.Text(),
	}
	for _, section := range report.Sections {
		run.Outcomes = append(run.Outcomes, section.Outcomes...)
	}

	err := r.store.Record(ctx, run)
	if err != nil {
		slog.WarnContext(ctx, "failed to record run history", "err", err)
	}
}

func (r Runner) deliver(ctx context.Context, text string) {
	for _, sink := range r.sinks {
		err := sink.Send(ctx, text)
		if err != nil {
			slog.WarnContext(ctx, "failed to deliver report", "sink", sink.Name(), "err", err)
		}
	}
}
