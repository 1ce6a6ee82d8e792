package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/stateflow/types"
)

// WebhookOptions configures the completion-callback notifier.
type WebhookOptions struct {
	// Timeout bounds one delivery attempt. Default 10s.
	Timeout time.Duration

	// MaxRetries is the number of re-deliveries after a failed attempt.
	// Default 3.
	MaxRetries int

	// RetryInterval is the base backoff, doubled per attempt. Default 1s.
	RetryInterval time.Duration

	// RatePerSecond caps outbound deliveries. Default 10.
	RatePerSecond float64
}

func (o WebhookOptions) withDefaults() WebhookOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 10
	}
	return o
}

// WebhookNotifier delivers at-least-once run completion callbacks. Receivers
// must de-duplicate by run id.
type WebhookNotifier struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	opts    WebhookOptions

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewWebhookNotifier creates a notifier with its own HTTP client.
func NewWebhookNotifier(logger *zap.Logger, opts WebhookOptions) *WebhookNotifier {
	opts = opts.withDefaults()
	return &WebhookNotifier{
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), int(opts.RatePerSecond)+1),
		logger:  logger.With(zap.String("component", "webhook")),
		opts:    opts,
		stop:    make(chan struct{}),
	}
}

// Notify delivers the terminal run record to its webhook URL in the
// background, retrying with exponential backoff.
func (n *WebhookNotifier) Notify(run *types.Run) {
	if run.WebhookURL == "" {
		return
	}
	select {
	case <-n.stop:
		return
	default:
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(run)
	}()
}

// Close waits for in-flight deliveries to finish.
func (n *WebhookNotifier) Close() {
	n.stopOnce.Do(func() { close(n.stop) })
	n.wg.Wait()
}

func (n *WebhookNotifier) deliver(run *types.Run) {
	payload, err := json.Marshal(run)
	if err != nil {
		n.logger.Error("failed to encode webhook payload",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
		return
	}

	backoff := n.opts.RetryInterval
	for attempt := 0; attempt <= n.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-n.stop:
				return
			}
			backoff *= 2
		}

		if err := n.limiter.Wait(context.Background()); err != nil {
			return
		}

		if err := n.post(run.WebhookURL, payload); err != nil {
			n.logger.Warn("webhook delivery failed",
				zap.String("run_id", run.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		n.logger.Debug("webhook delivered",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)
		return
	}

	n.logger.Error("webhook delivery exhausted retries",
		zap.String("run_id", run.ID),
		zap.String("url", run.WebhookURL),
	)
}

func (n *WebhookNotifier) post(url string, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
