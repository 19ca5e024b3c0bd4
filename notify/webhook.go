package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	webhookHTTPClientTimeout       = 10 * time.Second
	webhookHTTPDialTimeout         = 5 * time.Second
	webhookHTTPKeepAlive           = 30 * time.Second
	webhookHTTPIdleConnTimeout     = 90 * time.Second
	webhookHTTPResponseHeaderLimit = 5 * time.Second
	webhookRetryWaitMin            = 50 * time.Millisecond
	webhookRetryWaitMax            = 500 * time.Millisecond

	defaultWebhookBuffer = 256
	// EventHeader carries the event name so receivers can route without
	// decoding the body.
	EventHeader = "X-Castbridge-Event"
)

// WebhookOptions configures a Webhook sink.
type WebhookOptions struct {
	URL      string
	RetryMax int
	// Rate caps POSTs per second. Zero means unlimited.
	Rate float64
	// Buffer is how many events may wait for delivery before new ones are dropped.
	Buffer int
	Logger zerolog.Logger
}

type webhookItem struct {
	name string
	body []byte
}

// Webhook POSTs each event as JSON to a URL. Delivery happens on a single
// worker so events arrive in emission order.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	items  chan webhookItem
	done   chan struct{}
}

func newWebhookHTTPClient(retryMax int) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = webhookRetryWaitMin
	retryClient.RetryWaitMax = webhookRetryWaitMax
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{
		Timeout: webhookHTTPClientTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   webhookHTTPDialTimeout,
				KeepAlive: webhookHTTPKeepAlive,
			}).DialContext,
			ResponseHeaderTimeout: webhookHTTPResponseHeaderLimit,
			IdleConnTimeout:       webhookHTTPIdleConnTimeout,
		},
	}

	return retryClient.StandardClient()
}

// NewWebhook starts the delivery worker.
func NewWebhook(o WebhookOptions) (*Webhook, error) {
	if o.URL == "" {
		return nil, fmt.Errorf("webhook: empty URL")
	}
	if o.Buffer <= 0 {
		o.Buffer = defaultWebhookBuffer
	}

	limit := rate.Inf
	burst := 1
	if o.Rate > 0 {
		limit = rate.Limit(o.Rate)
		burst = max(1, int(o.Rate))
	}

	w := &Webhook{
		url:     o.URL,
		client:  newWebhookHTTPClient(o.RetryMax),
		limiter: rate.NewLimiter(limit, burst),
		log:     o.Logger,
		items:   make(chan webhookItem, o.Buffer),
		done:    make(chan struct{}),
	}

	go w.loop()
	return w, nil
}

// Emit encodes the event and queues it. A full buffer drops the event.
func (w *Webhook) Emit(e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		w.log.Error().Str("Method", "Emit").Str("Event", e.Name).Err(err).Msg("encode failed")
		return
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.items <- webhookItem{name: e.Name, body: body}:
	default:
		w.log.Warn().Str("Method", "Emit").Str("Event", e.Name).Msg("webhook buffer full, dropping event")
	}
}

// Close delivers what is buffered and stops the worker.
func (w *Webhook) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.items)
	}
	w.mu.Unlock()

	<-w.done
	return nil
}

func (w *Webhook) loop() {
	defer close(w.done)

	for item := range w.items {
		if err := w.limiter.Wait(context.Background()); err != nil {
			w.log.Debug().Str("Method", "loop").Err(err).Msg("rate limiter")
		}
		if err := w.post(item); err != nil {
			w.log.Warn().Str("Method", "post").Str("Event", item.name).Err(err).Msg("delivery failed")
		}
	}
}

func (w *Webhook) post(item webhookItem) error {
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(item.body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, item.name)

	res, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("webhook post: unexpected status %d", res.StatusCode)
	}

	w.log.Debug().Str("Method", "post").Str("Event", item.name).Int("Status", res.StatusCode).Msg("delivered")
	return nil
}
