package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/models"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	m.Run()
}

type fakeNotifier struct {
	name     string
	received chan Intent
	err      error
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, intent Intent) error {
	f.received <- intent
	return f.err
}

func testIntent(kind Kind) Intent {
	return Intent{
		AlertID:     "a-1",
		ServerID:    "srv-1",
		ServerName:  "web-01",
		Condition:   models.ConditionDisk,
		Severity:    models.SeverityHigh,
		Kind:        kind,
		Value:       85,
		Threshold:   80,
		TriggeredAt: time.Now(),
		Message:     "web-01 disk at 85.0% (threshold 80.0%)",
	}
}

func TestDispatchFansOutToAllChannels(t *testing.T) {
	a := &fakeNotifier{name: "a", received: make(chan Intent, 1)}
	b := &fakeNotifier{name: "b", received: make(chan Intent, 1)}
	d := NewDispatcher(a, b)

	d.Dispatch(testIntent(KindNew))

	for _, ch := range []*fakeNotifier{a, b} {
		select {
		case got := <-ch.received:
			if got.Kind != KindNew {
				t.Errorf("channel %s got kind %v", ch.name, got.Kind)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("channel %s never received the intent", ch.name)
		}
	}
}

func TestDispatchDoesNotBlockOnFailure(t *testing.T) {
	failing := &fakeNotifier{name: "broken", received: make(chan Intent, 2), err: errors.New("boom")}
	d := NewDispatcher(failing)

	done := make(chan struct{})
	go func() {
		d.Dispatch(testIntent(KindNew))
		d.Dispatch(testIntent(KindReminder))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked the caller")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := NewWebhookNotifier(ts.URL, 5*time.Second)
	if err := n.Notify(context.Background(), testIntent(KindEscalated)); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got.Kind != string(KindEscalated) || got.ServerID != "srv-1" {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	n := NewWebhookNotifier(ts.URL, 5*time.Second)
	if err := n.Notify(context.Background(), testIntent(KindNew)); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
