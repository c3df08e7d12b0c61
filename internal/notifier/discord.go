package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/mediafetch/internal/job"
	"github.com/italolelis/mediafetch/internal/logctx"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// JobMessage renders a terminal job as a chat message.
func JobMessage(j job.Job) string {
	switch j.Status {
	case job.StatusCompleted:
		msg := "✅ Download ready: " + j.FinalFilename
		if j.TotalBytes > 0 {
			msg += " (" + humanize.Bytes(uint64(j.TotalBytes)) + ")"
		}

		return msg
	case job.StatusCancelled:
		return "🚫 Download cancelled: " + j.FinalFilename
	default:
		return "❌ Download failed for " + j.URL + ": " + j.ErrorMessage
	}
}

// Forward sends a message for every job read from events until the channel
// closes. Failures are logged and do not stop the loop.
func Forward(ctx context.Context, events <-chan job.Job, n Notifier) {
	logger := logctx.LoggerFromContext(ctx)

	for j := range events {
		if n == nil {
			continue
		}

		if err := n.Notify(ctx, JobMessage(j)); err != nil {
			logger.Error("failed to send notification", "job_id", j.ID, "status", j.Status, "err", err)
		}
	}
}
