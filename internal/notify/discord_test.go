package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/2beens/lxcgate/internal/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []webhookPayload
	status   int
}

func (wr *webhookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	wr.mu.Lock()
	wr.payloads = append(wr.payloads, p)
	status := wr.status
	wr.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (wr *webhookRecorder) received() []webhookPayload {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return append([]webhookPayload(nil), wr.payloads...)
}

func TestDiscord_SendsEmbeds(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder)
	defer server.Close()

	mm := metrics.NewTestManager()
	d := NewDiscord(server.URL, 10, server.Client(), mm)
	fixedNow := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.nowFunc = func() time.Time { return fixedNow }

	d.NotifySuccess("/lxc")
	d.NotifyFailure(errors.New("status 401"), "/lxc/stop/101")
	require.NoError(t, d.Close(context.Background()))

	payloads := recorder.received()
	require.Len(t, payloads, 2)

	success := payloads[0].Embeds[0]
	assert.Equal(t, "API Healthy! 🟢", success.Title)
	assert.Equal(t, "Request given to: /lxc has worked!", success.Description)
	assert.Equal(t, 51968, success.Color)
	assert.Equal(t, []embedField{{Name: "🟢 Online", Value: "Works fine!"}}, success.Fields)
	assert.True(t, fixedNow.Equal(success.Timestamp))

	failure := payloads[1].Embeds[0]
	assert.Equal(t, "API Error", failure.Title)
	assert.Equal(t, "Error occurred at endpoint: /lxc/stop/101", failure.Description)
	assert.Equal(t, 16711680, failure.Color)
	assert.Equal(t, []embedField{{Name: "Error Message", Value: "status 401"}}, failure.Fields)

	assert.Equal(t, float64(2), testutil.ToFloat64(mm.CounterNotifications.WithLabelValues(metrics.ResultOK)))
}

func TestDiscord_WebhookFailureIsCountedNotPropagated(t *testing.T) {
	recorder := &webhookRecorder{status: http.StatusTooManyRequests}
	server := httptest.NewServer(recorder)
	defer server.Close()

	mm := metrics.NewTestManager()
	d := NewDiscord(server.URL, 10, server.Client(), mm)
	d.NotifyFailure(errors.New("boom"), "/node/status")
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, recorder.received(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.CounterNotifications.WithLabelValues(metrics.ResultFailure)))
}

func TestDiscord_UnreachableWebhook(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	mm := metrics.NewTestManager()
	d := NewDiscord(url, 10, &http.Client{Timeout: time.Second}, mm)
	d.NotifySuccess("/lxc")
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.CounterNotifications.WithLabelValues(metrics.ResultFailure)))
}

func TestDiscord_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	mm := metrics.NewTestManager()
	d := NewDiscord(server.URL, 1, server.Client(), mm)

	// the worker takes at most one event, the queue holds one more
	for i := 0; i < 10; i++ {
		d.NotifySuccess("/lxc")
	}
	assert.GreaterOrEqual(t, testutil.ToFloat64(mm.CounterNotifications.WithLabelValues(metrics.ResultDropped)), float64(8))

	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDiscord_CloseDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDiscord(server.URL, 5, server.Client(), nil)
	d.NotifySuccess("/lxc")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// events after close are dropped, not panicking on a closed channel
	d.NotifySuccess("/lxc")

	close(release)
	<-d.done
}

func TestBuildEmbed_LongErrorTruncated(t *testing.T) {
	e := buildEmbed(event{endpoint: "/lxc", err: errors.New(strings.Repeat("x", 5000))})
	require.Len(t, e.Fields, 1)
	assert.Len(t, e.Fields[0].Value, maxFieldValueLen)
	assert.True(t, strings.HasSuffix(e.Fields[0].Value, "..."))
}

func TestBuildEmbed_MultiByteErrorTruncatedOnRuneBoundary(t *testing.T) {
	// 3 bytes per rune, the byte limit would land inside a rune
	msg := strings.Repeat("€", 2000)
	e := buildEmbed(event{endpoint: "/lxc", err: errors.New(msg)})
	require.Len(t, e.Fields, 1)

	value := e.Fields[0].Value
	assert.True(t, utf8.ValidString(value))
	assert.Equal(t, maxFieldValueLen, utf8.RuneCountInString(value))
	assert.Equal(t, strings.Repeat("€", maxFieldValueLen-3)+"...", value)

	payload, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "\\ufffd")

	short := "container 101 failed: état inconnu"
	assert.Equal(t, short, truncate(short, maxFieldValueLen))
}

func TestDiscord_EnqueueAfterClose(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder)
	defer server.Close()

	mm := metrics.NewTestManager()
	d := NewDiscord(server.URL, 10, server.Client(), mm)
	require.NoError(t, d.Close(context.Background()))

	assert.ErrorIs(t, d.enqueue(event{endpoint: "/lxc"}), ErrClosed)

	d.NotifySuccess("/lxc")
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.CounterNotifications.WithLabelValues(metrics.ResultDropped)))
	assert.Empty(t, recorder.received())
}

func TestNoop(t *testing.T) {
	var n Notifier = Noop{}
	n.NotifySuccess("/lxc")
	n.NotifyFailure(errors.New("x"), "/lxc")
	assert.NoError(t, n.Close(context.Background()))
}
