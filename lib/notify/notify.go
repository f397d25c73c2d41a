package notify

import (
	"context"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lib/notify")

// Sink delivers the final run report somewhere. Delivery is best
// effort: the runner logs failures and moves on, a sink error never
// aborts a run.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) error
}
