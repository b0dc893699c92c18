package tail

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/loglens/internal/logtypes"
)

const webhookTimeout = 5 * time.Second

// AlertEvent is the JSON payload sent to webhook URLs.
type AlertEvent struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Session   string          `json:"session,omitempty"`
	File      string          `json:"file,omitempty"`
	Rule      string          `json:"rule"`
	Record    logtypes.Record `json:"record"`
}

const (
	webhookWorkers   = 4
	webhookQueueSize = 256
)

type webhookJob struct {
	url  string
	data []byte
}

// WebhookDispatcher posts alert events from a fixed pool of workers. Events
// that find the queue full are dropped and counted rather than blocking the
// poll loop.
type WebhookDispatcher struct {
	urls   []string
	client *http.Client
	queue  chan webhookJob

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// NewWebhookDispatcher creates a dispatcher for the given URLs and starts its
// workers. It returns nil when no URLs are given; a nil dispatcher drops events.
func NewWebhookDispatcher(urls []string) *WebhookDispatcher {
	return newWebhookDispatcher(urls, webhookWorkers, webhookQueueSize)
}

func newWebhookDispatcher(urls []string, workers, queueSize int) *WebhookDispatcher {
	if len(urls) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &WebhookDispatcher{
		urls:   urls,
		client: &http.Client{Timeout: webhookTimeout},
		queue:  make(chan webhookJob, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Fire queues the event for every configured URL and returns immediately.
// It returns how many deliveries were dropped because the queue was full or
// the dispatcher was closed. Delivery errors are dropped.
func (d *WebhookDispatcher) Fire(evt AlertEvent) int {
	if d == nil || len(d.urls) == 0 {
		return 0
	}
	if evt.Event == "" {
		evt.Event = "alert"
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return 0
	}

	dropped := 0
	for _, url := range d.urls {
		if d.ctx.Err() != nil {
			dropped++
			continue
		}
		select {
		case d.queue <- webhookJob{url: url, data: data}:
		default:
			dropped++
		}
	}
	d.dropped.Add(int64(dropped))
	return dropped
}

// Dropped returns the number of deliveries dropped so far.
func (d *WebhookDispatcher) Dropped() int64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close aborts in-flight posts, discards queued events and waits for the
// workers to exit. It is safe to call more than once and on nil.
func (d *WebhookDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(d.cancel)
	d.wg.Wait()
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case job := <-d.queue:
			d.post(job.url, job.data)
		}
	}
}

func (d *WebhookDispatcher) post(url string, data []byte) {
	ctx, cancel := context.WithTimeout(d.ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
