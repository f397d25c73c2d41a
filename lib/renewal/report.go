package renewal

import (
	"fmt"
	"strings"
	"time"

	"bibrenew/lib/runstore"
)

// UserReport is one user's section of a run report. Every processed
// user contributes exactly one section, whether the workflow made it
// to the end or not.
type UserReport struct {
	Label string
	Lines []string
	// Outcomes mirror the renewal lines for history persistence.
	// Sections that failed before any renewal carry none.
	Outcomes []runstore.Outcome
}

func (r UserReport) Section() string {
	return fmt.Sprintf("**%s**\n%s", r.Label, strings.Join(r.Lines, "\n"))
}

type Report struct {
	ID        string
	StartedAt time.Time
	Sections  []UserReport
}

// Text renders the sections, in user order, into the single message
// handed to notification sinks.
func (r Report) Text() string {
	sections := make([]string, len(r.Sections))
	for i, section := range r.Sections {
		sections[i] = section.Section()
	}
	return strings.Join(sections, "\n\n")
}

func failLine(err error) string {
	return "⚠️ " + err.Error()
}
