package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/orrn/printapp/internal/api/handlers"
	"github.com/orrn/printapp/internal/core"
	"github.com/orrn/printapp/internal/webhook"
)

func TestWebhooks_CRUD(t *testing.T) {
	e := newEnv(t, false)

	w := e.doJSON(t, http.MethodPost, "/api/webhooks", map[string]any{
		"name": "ops", "url": "http://example.test/hook", "events": []string{"job.exploded"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown event, got %d", w.Code)
	}

	w = e.doJSON(t, http.MethodPost, "/api/webhooks", map[string]any{
		"name": "ops", "url": "http://example.test/hook", "secret": "s",
		"events": []string{string(core.EventJobCompleted), string(core.EventJobAborted)},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[handlers.WebhookResponse](t, w)
	if len(created.Events) != 2 || !created.Enabled {
		t.Errorf("unexpected webhook %+v", created)
	}
	path := "/api/webhooks/" + itoa(int(created.ID))

	w = e.doJSON(t, http.MethodPut, path, map[string]any{"enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 updating, got %d", w.Code)
	}
	if got := decode[handlers.WebhookResponse](t, w); got.Enabled {
		t.Error("expected webhook to be disabled")
	}

	list := decode[[]handlers.WebhookResponse](t, e.do(t, http.MethodGet, "/api/webhooks", nil, ""))
	if len(list) != 1 {
		t.Errorf("expected 1 webhook, got %d", len(list))
	}

	if w := e.do(t, http.MethodDelete, path, nil, ""); w.Code != http.StatusNoContent {
		t.Errorf("expected 204 deleting, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, path, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestWebhooks_TestDelivery(t *testing.T) {
	e := newEnv(t, false)

	type hit struct {
		signature string
		body      []byte
	}
	hits := make(chan hit, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		hits <- hit{signature: r.Header.Get("X-Webhook-Signature"), body: body}
	}))
	defer srv.Close()

	w := e.doJSON(t, http.MethodPost, "/api/webhooks", map[string]any{"name": "t", "url": srv.URL, "secret": "k"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id := decode[handlers.WebhookResponse](t, w).ID

	w = e.do(t, http.MethodPost, "/api/webhooks/"+itoa(int(id))+"/test", nil, "")
	if resp := decode[handlers.TestWebhookResponse](t, w); !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}

	got := <-hits
	var payload webhook.WebhookPayload
	if err := json.Unmarshal(got.body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	data, _ := json.Marshal(payload.Data)
	if want := webhook.SignPayload(data, "k"); got.signature != want {
		t.Errorf("expected signature %s, got %s", want, got.signature)
	}
}

func TestEvents_Stream(t *testing.T) {
	e := newEnv(t, false)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	if w := e.do(t, http.MethodGet, "/api/events?type=bogus", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?printer=office&type=job.completed"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, "subscriber", func() bool { return e.broker.Subscribers() == 1 })

	e.broker.Notify(core.Event{Type: core.EventJobCreated, Printer: "office", JobID: 1})
	e.broker.Notify(core.Event{Type: core.EventJobCompleted, Printer: "lab", JobID: 2})
	e.broker.Notify(core.Event{Type: core.EventJobCompleted, Printer: "office", JobID: 3})

	var ev core.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.JobID != 3 || ev.Type != core.EventJobCompleted {
		t.Errorf("unexpected event %+v", ev)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "unsubscribe", func() bool { return e.broker.Subscribers() == 0 })
}
