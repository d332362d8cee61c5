// Package notify posts run summaries to a Slack incoming webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/malbeclabs/tsfaker/faker/pkg/engine"
	"github.com/malbeclabs/tsfaker/utils/pkg/retry"
)

// maxListedFailures bounds the failures quoted in one message.
const maxListedFailures = 10

type SlackConfig struct {
	Logger     *slog.Logger
	WebhookURL string
	HTTPClient *http.Client
	// Title prefixes every message, e.g. the target table.
	Title string
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.WebhookURL == "" {
		return errors.New("webhook url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Title == "" {
		cfg.Title = "tsfaker run"
	}
	return nil
}

type Slack struct {
	cfg SlackConfig
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Slack{cfg: cfg}, nil
}

// Notify posts the summary, retrying transient failures.
func (s *Slack) Notify(ctx context.Context, summary *engine.Summary) error {
	msg := Message(s.cfg.Title, summary)
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return slack.PostWebhookCustomHTTPContext(ctx, s.cfg.WebhookURL, s.cfg.HTTPClient, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to post slack summary: %w", err)
	}
	s.cfg.Logger.Debug("notify: posted slack summary", "run_id", summary.RunID)
	return nil
}

// Message renders a summary as a webhook message with a plain text fallback.
func Message(title string, summary *engine.Summary) *slack.WebhookMessage {
	text := FormatSummary(title, summary)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Status*\n%s", summary.Status), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Rows*\n%d", summary.Rows), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Written / previewed*\n%d / %d", summary.Written, summary.Previewed), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Skipped / failed*\n%d / %d", summary.Skipped, summary.Failed), false, false),
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, headline(title, summary), false, false), fields, nil),
	}
	if failures := failureLines(summary); failures != "" {
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, failures, false, false), nil, nil))
	}

	return &slack.WebhookMessage{
		Text:   text,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

// FormatSummary renders a summary as mrkdwn text.
func FormatSummary(title string, summary *engine.Summary) string {
	var b strings.Builder
	b.WriteString(headline(title, summary))
	fmt.Fprintf(&b, "\nrows=%d written=%d previewed=%d skipped=%d failed=%d",
		summary.Rows, summary.Written, summary.Previewed, summary.Skipped, summary.Failed)
	if summary.LimitReached {
		b.WriteString(" (row limit reached)")
	}
	if summary.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", summary.Err)
	}
	if failures := failureLines(summary); failures != "" {
		b.WriteString("\n")
		b.WriteString(failures)
	}
	return b.String()
}

func headline(title string, summary *engine.Summary) string {
	mode := ""
	if summary.DryRun {
		mode = " [DRY RUN]"
	}
	return fmt.Sprintf("*%s*%s `%s` %s in %s", title, mode, summary.RunID, summary.Status, summary.Elapsed.Round(time.Millisecond))
}

func failureLines(summary *engine.Summary) string {
	failures := summary.Failures()
	if len(failures) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("*Failures*")
	for i, o := range failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "\n• ... and %d more", len(failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&b, "\n• `%s`: %v", o.EntityID, o.Err)
	}
	return b.String()
}
