package components

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/sailor/internal/component"
	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/execution"
)

// recorder — Emitter, запоминающий события.
type recorder struct {
	mu     sync.Mutex
	events []execution.Event
}

func (r *recorder) add(kind execution.Kind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, execution.Event{Kind: kind, Payload: payload})
}

func (r *recorder) EmitData(v any)           { r.add(execution.KindData, v) }
func (r *recorder) EmitError(v any)          { r.add(execution.KindError, v) }
func (r *recorder) EmitRebound(v any)        { r.add(execution.KindRebound, v) }
func (r *recorder) EmitSnapshot(v any)       { r.add(execution.KindSnapshot, v) }
func (r *recorder) EmitUpdateSnapshot(v any) { r.add(execution.KindUpdateSnapshot, v) }
func (r *recorder) EmitUpdateKeys(v any)     { r.add(execution.KindUpdateKeys, v) }
func (r *recorder) EmitHTTPReply(v any)      { r.add(execution.KindHTTPReply, v) }
func (r *recorder) EmitEnd()                 { r.add(execution.KindEnd, nil) }

func TestRender(t *testing.T) {
	msg := domain.NewMessage(map[string]any{
		"customer": map[string]any{"name": "Alice", "email": "ALICE@EXAMPLE.COM"},
	})
	msg.Headers["reply_to"] = "reply:1"
	tc := NewTemplateContext(msg, map[string]any{"cursor": 5})

	tests := []struct {
		tmpl string
		want string
	}{
		{"plain", "plain"},
		{"{{ .Body.customer.name }}", "Alice"},
		{"{{ lower .Body.customer.email }}", "alice@example.com"},
		{"{{ .Headers.reply_to }}", "reply:1"},
		{"{{ .Snapshot.cursor }}", "5"},
		{`{{ default "none" .Body.customer.phone }}`, "none"},
		{"{{ json .Body.customer.name }}", `"Alice"`},
	}

	for _, tt := range tests {
		got, err := Render(tt.tmpl, tc)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.tmpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.tmpl, tt.want, got)
		}
	}

	if _, err := Render("{{ .Body", tc); !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
}

func TestRenderConfig_Nested(t *testing.T) {
	tc := NewTemplateContext(domain.NewMessage(map[string]any{"id": "42"}), nil)

	got, err := RenderConfig(map[string]any{
		"url":   "https://api.local/items/{{ .Body.id }}",
		"list":  []any{"{{ .Body.id }}", 1},
		"count": 3,
	}, tc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["url"] != "https://api.local/items/42" {
		t.Errorf("unexpected url %v", got["url"])
	}
	if got["list"].([]any)[0] != "42" || got["list"].([]any)[1] != 1 {
		t.Errorf("unexpected list %v", got["list"])
	}
	if got["count"] != 3 {
		t.Error("non-string values must pass through")
	}
}

func TestHTTP_Success(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotAuth = r.Method, r.URL.Path, r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	msg := domain.NewMessage(map[string]any{"id": "7"})
	cfg := map[string]any{
		"method":  "post",
		"url":     srv.URL + "/items/{{ .Body.id }}",
		"headers": map[string]any{"Authorization": "Bearer token"},
		"body":    map[string]any{"item": "{{ .Body.id }}"},
	}

	rec := &recorder{}
	result, err := (&HTTP{}).Process(context.Background(), rec, msg, cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/items/7" || gotAuth != "Bearer token" {
		t.Errorf("unexpected request %s %s %s", gotMethod, gotPath, gotAuth)
	}
	if gotBody["item"] != "7" {
		t.Errorf("unexpected request body %v", gotBody)
	}

	out := result.(*domain.Message)
	body := out.Body.(map[string]any)
	if body["status_code"] != 200 {
		t.Errorf("unexpected status %v", body["status_code"])
	}
	if body["body"].(map[string]any)["ok"] != true {
		t.Errorf("unexpected response body %v", body["body"])
	}
	if len(rec.events) != 0 {
		t.Errorf("no events expected, got %v", rec.events)
	}
}

func TestHTTP_StatusHandling(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte("unavailable"))
	}))
	defer srv.Close()

	cfg := map[string]any{"url": srv.URL}

	rec := &recorder{}
	result, err := (&HTTP{}).Process(context.Background(), rec, domain.NewMessage(nil), cfg, nil)
	if err != nil || result != nil {
		t.Fatalf("5xx must rebound without error, got %v %v", result, err)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != execution.KindRebound {
		t.Fatalf("expected rebound event, got %v", rec.events)
	}

	status = http.StatusNotFound
	rec = &recorder{}
	_, err = (&HTTP{}).Process(context.Background(), rec, domain.NewMessage(nil), cfg, nil)
	if err == nil {
		t.Fatal("4xx must fail")
	}
	if info := domain.NormalizeError(err); info.Name != "HTTPError" {
		t.Errorf("expected HTTPError name, got %q", info.Name)
	}
	if len(rec.events) != 0 {
		t.Errorf("4xx must not rebound, got %v", rec.events)
	}
}

func TestHTTP_InvalidConfig(t *testing.T) {
	h := &HTTP{}

	if _, err := h.Process(context.Background(), &recorder{}, domain.NewMessage(nil), map[string]any{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for missing url, got %v", err)
	}
	if err := h.Init(context.Background(), map[string]any{"method": "TRACE"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for method, got %v", err)
	}
	if err := h.Init(context.Background(), map[string]any{}); err != nil {
		t.Errorf("default method must be valid, got %v", err)
	}
}

func TestDelay(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := &Delay{Now: func() time.Time { return fixed }}

	rec := &recorder{}
	result, err := d.Process(context.Background(), rec, domain.NewMessage("payload"),
		map[string]any{"duration_sec": 0.01}, map[string]any{"runs": float64(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.(*domain.Message).Body != "payload" {
		t.Error("delay must pass the body through")
	}
	if len(rec.events) != 1 || rec.events[0].Kind != execution.KindSnapshot {
		t.Fatalf("expected snapshot event, got %v", rec.events)
	}
	snap := rec.events[0].Payload.(map[string]any)
	if snap["lastRun"] != "2024-05-01T12:00:00Z" || snap["runs"] != float64(3) {
		t.Errorf("unexpected snapshot %v", snap)
	}
}

func TestDelay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Delay{}).Process(ctx, &recorder{}, domain.NewMessage(nil), map[string]any{"duration_sec": 10}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTransform(t *testing.T) {
	msg := domain.NewMessage(map[string]any{"first": "Ada", "last": "Lovelace"})
	cfg := map[string]any{
		"mapping": map[string]any{"fullName": "{{ .Body.first }} {{ .Body.last }}"},
	}

	result, err := (&Transform{}).Process(context.Background(), &recorder{}, msg, cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := result.(*domain.Message).Body.(map[string]any)
	if body["fullName"] != "Ada Lovelace" {
		t.Errorf("unexpected body %v", body)
	}

	if _, err := (&Transform{}).Process(context.Background(), &recorder{}, msg, map[string]any{"mapping": "x"}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTransform_Reply(t *testing.T) {
	rec := &recorder{}
	result, err := (&Transform{}).Process(context.Background(), rec, domain.NewMessage("pong"),
		map[string]any{"reply": true, "status_code": float64(201)}, nil)
	if err != nil || result != nil {
		t.Fatalf("reply must not produce data, got %v %v", result, err)
	}

	if len(rec.events) != 1 || rec.events[0].Kind != execution.KindHTTPReply {
		t.Fatalf("expected httpReply, got %v", rec.events)
	}
	reply := rec.events[0].Payload.(domain.HTTPReply)
	if reply.StatusCode != 201 || reply.Body != "pong" {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestRegister(t *testing.T) {
	r := component.NewRegistry()
	Register(r)

	for _, name := range []string{"http", "delay", "transform"} {
		impl, err := r.Get(name)
		if err != nil {
			t.Fatalf("%s not registered: %v", name, err)
		}
		if _, ok := impl.(execution.Processor); !ok {
			t.Errorf("%s must implement Processor", name)
		}
	}
}
