package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

func TestEventMarshalJSON(t *testing.T) {
	b, err := json.Marshal(Event{Name: "MEDIA_PROGRESS_UPDATED", Payload: map[string]any{"progress": 1}})
	if err != nil {
		t.Fatalf("Marshal() err = %v", err)
	}
	want := `{"name":"MEDIA_PROGRESS_UPDATED","payload":{"progress":1}}`
	if string(b) != want {
		t.Fatalf("Marshal() = %s, want %s", b, want)
	}
}

func TestWriterEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, zerolog.Nop())

	w.Emit(Event{Name: "A", Payload: 1})
	w.Emit(Event{Name: "B", Payload: "x"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	if lines[0] != `{"name":"A","payload":1}` || lines[1] != `{"name":"B","payload":"x"}` {
		t.Fatalf("unexpected lines: %#v", lines)
	}
}

type closingChannel struct {
	events []string
	err    error
	closed bool
}

func (c *closingChannel) Emit(e Event) { c.events = append(c.events, e.Name) }

func (c *closingChannel) Close() error {
	c.closed = true
	return c.err
}

func TestMultiFansOutAndJoinsCloseErrors(t *testing.T) {
	errBoom := errors.New("boom")
	a := &closingChannel{}
	b := &closingChannel{err: errBoom}
	var fromFunc []string
	m := Multi{a, b, ChannelFunc(func(e Event) { fromFunc = append(fromFunc, e.Name) })}

	m.Emit(Event{Name: "X"})
	m.Emit(Event{Name: "Y"})

	for _, got := range [][]string{a.events, b.events, fromFunc} {
		if strings.Join(got, ",") != "X,Y" {
			t.Fatalf("events = %v, want [X Y]", got)
		}
	}

	err := m.Close()
	if !errors.Is(err, errBoom) {
		t.Fatalf("Close() err = %v, want %v", err, errBoom)
	}
	if !a.closed || !b.closed {
		t.Fatal("Close() did not close every member")
	}
}

func TestWebhookDeliversInOrderAndRetries(t *testing.T) {
	var mu sync.Mutex
	var names []string
	var bodies []string
	failures := 1

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		b, _ := io.ReadAll(r.Body)
		names = append(names, r.Header.Get(EventHeader))
		bodies = append(bodies, string(b))
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookOptions{URL: srv.URL, RetryMax: 2, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewWebhook() err = %v", err)
	}

	wh.Emit(Event{Name: "FIRST", Payload: 1})
	wh.Emit(Event{Name: "SECOND", Payload: 2})
	if err := wh.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(names, ",") != "FIRST,SECOND" {
		t.Fatalf("delivered %v, want [FIRST SECOND]", names)
	}
	if bodies[0] != `{"name":"FIRST","payload":1}` {
		t.Fatalf("body = %s", bodies[0])
	}

	// Emit after Close must not panic.
	wh.Emit(Event{Name: "LATE"})
}

func TestNewWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhook(WebhookOptions{}); err == nil {
		t.Fatal("NewWebhook() err = nil, want error")
	}
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublishesEncodedEvents(t *testing.T) {
	if _, err := NewKafka(nil, "topic", zerolog.Nop()); err == nil {
		t.Fatal("NewKafka() without brokers err = nil, want error")
	}

	k, err := NewKafka([]string{"localhost:9092"}, "media", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKafka() err = %v", err)
	}
	fw := &fakeKafkaWriter{}
	k.writer = fw

	k.Emit(Event{Name: "MEDIA_STATUS_UPDATED", Payload: map[string]int{"a": 1}})
	if err := k.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	if len(fw.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Value) != `{"name":"MEDIA_STATUS_UPDATED","payload":{"a":1}}` {
		t.Fatalf("value = %s", msg.Value)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "MEDIA_STATUS_UPDATED" {
		t.Fatalf("headers = %#v", msg.Headers)
	}
	if !fw.closed {
		t.Fatal("writer not closed")
	}
}
