package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

// discord rejects messages over 2000 characters
const discordMessageLimit = 2000

type Discord struct {
	webhookURL string
	client     *resty.Client
}

func NewDiscord(webhookURL string) Discord {
	return Discord{
		webhookURL: webhookURL,
		client:     resty.New().SetTimeout(time.Second * 30),
	}
}

func (Discord) Name() string {
	return "discord"
}

// Send posts the report to the webhook, split into ordered chunks
// when it exceeds the message limit.
func (d Discord) Send(ctx context.Context, text string) error {
	ctx, span := tracer.Start(ctx, "discord:Send")
	defer span.End()

	for _, chunk := range chunkMessage(text, discordMessageLimit) {
		res, err := d.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]string{"content": chunk}).
			Post(d.webhookURL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to post webhook")
			return err
		}
		if res.IsError() {
			err := fmt.Errorf("webhook returned %s", res.Status())
			span.RecordError(err)
			span.SetStatus(codes.Error, "webhook rejected message")
			return err
		}
	}
	return nil
}

// chunkMessage splits text into chunks of at most limit runes,
// breaking on line boundaries. A single line longer than the limit is
// force-split mid-line.
func chunkMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		chunks = append(chunks, current.String())
		current.Reset()
		currentLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			if currentLen > 0 {
				flush()
			}
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}

		sep := 0
		if currentLen > 0 {
			sep = 1
		}
		if currentLen+sep+len(runes) > limit {
			flush()
			sep = 0
		}
		if sep == 1 {
			current.WriteString("\n")
		}
		current.WriteString(string(runes))
		currentLen += sep + len(runes)
	}
	if currentLen > 0 {
		flush()
	}
	return chunks
}
