package transport

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Output receives a rendered dump of one http exchange. Dumps are
// only produced while debug logging is enabled.
type Output interface {
	Write(id string, contents string)
}

type instrumentCtx struct {
	output    Output
	idcounter *uint64
}

const messageIdContextKey = "bibrenew.transport.message_id"

// instrumentClient attaches the debug logging hooks. Every attempt
// logs its own line, a retried request shows up once per attempt
// under the same message id.
func instrumentClient(client *resty.Client, output Output) {
	var idcounter uint64
	i := instrumentCtx{output: output, idcounter: &idcounter}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.AddRetryHook(i.onRetry)
	client.OnError(i.onError)
}

func (i instrumentCtx) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return nil
	}
	if _, ok := ctx.Value(messageIdContextKey).(string); ok {
		// a retry attempt reuses the id assigned to the first attempt
		return nil
	}

	messageId := strconv.FormatUint(atomic.AddUint64(i.idcounter, 1), 10)
	slog.DebugContext(
		ctx, "start request",
		"method", req.Method,
		"url", req.URL,
		"message_id", messageId,
	)
	req.SetContext(context.WithValue(ctx, messageIdContextKey, messageId))
	return nil
}

func (i instrumentCtx) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	messageId, _ := ctx.Value(messageIdContextKey).(string)
	if i.output != nil && messageId != "" {
		i.output.Write(messageId, formatHttpMessage(res))
	}
	slog.DebugContext(
		ctx, "request completed",
		"method", res.Request.Method,
		"url", res.Request.URL,
		"status", res.StatusCode(),
		"message_id", messageId,
	)
	return nil
}

func (i instrumentCtx) onRetry(res *resty.Response, err error) {
	// res is nil when the attempt died before producing a response
	if res == nil {
		slog.Debug("retrying request", "err", err)
		return
	}
	ctx := res.Request.Context()
	messageId, _ := ctx.Value(messageIdContextKey).(string)
	slog.DebugContext(
		ctx, "retrying request",
		"method", res.Request.Method,
		"url", res.Request.URL,
		"err", err,
		"message_id", messageId,
	)
}

func (i instrumentCtx) onError(req *resty.Request, err error) {
	ctx := req.Context()
	messageId, _ := ctx.Value(messageIdContextKey).(string)
	if messageId != "" {
		slog.ErrorContext(
			ctx, "request failed",
			"method", req.Method,
			"url", req.URL,
			"err", err,
			"message_id", messageId,
		)
		return
	}
	slog.ErrorContext(
		ctx, "request failed",
		"method", req.Method,
		"url", req.URL,
		"err", err,
	)
}
