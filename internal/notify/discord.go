package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/2beens/lxcgate/internal/telemetry/metrics"
	"github.com/2beens/lxcgate/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	colorRed   = 16711680
	colorGreen = 51968

	// discord rejects embed field values longer than this
	maxFieldValueLen = 1024

	DefaultQueueSize = 100
)

var (
	ErrClosed    = errors.New("notifier closed")
	ErrQueueFull = errors.New("notification queue full")
)

type embedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields"`
	Timestamp   time.Time    `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

type event struct {
	endpoint string
	err      error
	at       time.Time
}

// Discord posts embeds to a Discord webhook from a single background worker.
// Events are queued; when the queue is full the event is dropped.
type Discord struct {
	webhookURL     string
	httpClient     *http.Client
	metricsManager *metrics.Manager

	queue     chan event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	// ability to inject the clock in tests
	nowFunc func() time.Time
}

var _ Notifier = (*Discord)(nil)

func NewDiscord(
	webhookURL string,
	queueSize int,
	httpClient *http.Client,
	metricsManager *metrics.Manager,
) *Discord {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	d := &Discord{
		webhookURL:     webhookURL,
		httpClient:     httpClient,
		metricsManager: metricsManager,
		queue:          make(chan event, queueSize),
		done:           make(chan struct{}),
		nowFunc:        time.Now,
	}

	go d.run()

	return d
}

func (d *Discord) NotifySuccess(endpoint string) {
	d.dispatch(event{endpoint: endpoint, at: d.nowFunc()})
}

func (d *Discord) NotifyFailure(err error, endpoint string) {
	if err == nil {
		err = errors.New("unknown error")
	}
	d.dispatch(event{endpoint: endpoint, err: err, at: d.nowFunc()})
}

func (d *Discord) dispatch(e event) {
	if err := d.enqueue(e); err != nil {
		log.Warnf("dropping notification for %s: %s", e.endpoint, err)
		d.count(metrics.ResultDropped)
	}
}

func (d *Discord) enqueue(e event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Discord) run() {
	defer close(d.done)
	for e := range d.queue {
		if err := d.send(context.Background(), e); err != nil {
			log.Errorf("failed to send notification for %s to discord webhook: %s", e.endpoint, err)
			d.count(metrics.ResultFailure)
			continue
		}
		d.count(metrics.ResultOK)
	}
}

// Close stops accepting events and waits for the queued ones to be sent, or
// for ctx to be done, whichever comes first.
func (d *Discord) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notification queue: %w", ctx.Err())
	}
}

func (d *Discord) send(ctx context.Context, e event) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "discord.send")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("endpoint", e.endpoint),
		attribute.Bool("failure", e.err != nil),
	)

	payload, err := json.Marshal(webhookPayload{Embeds: []embed{buildEmbed(e)}})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}

func (d *Discord) count(result string) {
	if d.metricsManager != nil {
		d.metricsManager.CounterNotifications.WithLabelValues(result).Inc()
	}
}

func buildEmbed(e event) embed {
	if e.err != nil {
		msg := e.err.Error()
		if msg == "" {
			msg = "Unknown error"
		}
		msg = truncate(msg, maxFieldValueLen)
		return embed{
			Title:       "API Error",
			Description: fmt.Sprintf("Error occurred at endpoint: %s", e.endpoint),
			Color:       colorRed,
			Fields:      []embedField{{Name: "Error Message", Value: msg}},
			Timestamp:   e.at,
		}
	}

	return embed{
		Title:       "API Healthy! 🟢",
		Description: fmt.Sprintf("Request given to: %s has worked!", e.endpoint),
		Color:       colorGreen,
		Fields:      []embedField{{Name: "🟢 Online", Value: "Works fine!"}},
		Timestamp:   e.at,
	}
}

// truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}
