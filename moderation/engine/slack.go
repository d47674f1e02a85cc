package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/pkg/robusthttp"

	"github.com/sony/gobreaker"
)

// Posts removal alerts to a slack channel via "incoming webhook". Delivery goes through a retrying client, and a circuit breaker stops hammering slack while it is down.
type SlackNotifier struct {
	SlackWebhookURL string

	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

var _ Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(logger *slog.Logger, webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		client: robusthttp.NewClient(
			robusthttp.WithLogger(logger),
			robusthttp.WithMaxRetries(2),
			robusthttp.WithTimeout(10*time.Second),
		),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "slack-notifier",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (n *SlackNotifier) SendRemoval(ctx context.Context, rec *models.FlagRecord) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.sendSlackMsg(ctx, slackBody(rec))
	})
	return err
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK || string(respBody) != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(rec *models.FlagRecord) string {
	msg := "⚠️ Content Removed ⚠️\n"
	msg += fmt.Sprintf("`%s` reason: `%s`\n", rec.TargetKey(), rec.Reason)
	if rec.ActorID != "" {
		msg += fmt.Sprintf("by: `%s`\n", rec.ActorID)
	}
	msg += fmt.Sprintf("record: `%s`\n", rec.ID)
	return msg
}
