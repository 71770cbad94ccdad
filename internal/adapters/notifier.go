package adapters

import (
	"context"
	"log"
)

// LogNotifier writes alerts to the process log. It is the only Notifier
// wired by default; a webhook/push implementation can satisfy the same
// interface without touching any caller.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, severity, message string) error {
	log.Printf("[alert:%s] %s", severity, message)
	return nil
}

var _ Notifier = LogNotifier{}

// NoopSentiment always reports no reading available. Wired when no
// sentiment data source is configured so rule evaluation's sentiment
// input degrades to "absent" rather than failing.
type NoopSentiment struct{}

func (NoopSentiment) Sentiment(ctx context.Context, symbol string) (float64, bool) {
	return 0, false
}

var _ SentimentFetcher = NoopSentiment{}
