package domain

import (
	"testing"
)

func TestToMessage(t *testing.T) {
	t.Run("plain value becomes body", func(t *testing.T) {
		msg, err := ToMessage(map[string]any{"foo": "bar"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		body, ok := msg.Body.(map[string]any)
		if !ok || body["foo"] != "bar" {
			t.Errorf("expected value wrapped as body, got %#v", msg.Body)
		}
		if msg.Headers == nil {
			t.Error("headers must be initialized")
		}
	})

	t.Run("object with message keys", func(t *testing.T) {
		msg, err := ToMessage(map[string]any{
			"id":      "m-1",
			"body":    map[string]any{"x": 1},
			"headers": map[string]any{"h": "v"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ID != "m-1" || msg.Headers["h"] != "v" {
			t.Errorf("unexpected message %+v", msg)
		}
		if msg.Body.(map[string]any)["x"] != float64(1) {
			t.Errorf("unexpected body %#v", msg.Body)
		}
	})

	t.Run("scalar", func(t *testing.T) {
		msg, err := ToMessage(42)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Body != 42 {
			t.Errorf("expected 42, got %#v", msg.Body)
		}
	})

	t.Run("message pointer passes through", func(t *testing.T) {
		in := &Message{Body: "x"}
		msg, err := ToMessage(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg != in || msg.Headers == nil {
			t.Error("expected the same message with initialized headers")
		}
	})

	t.Run("unmarshalable", func(t *testing.T) {
		if _, err := ToMessage(map[string]any{"fn": func() {}}); err == nil {
			t.Error("expected marshal error")
		}
	})
}

func TestDeepCopy(t *testing.T) {
	src := map[string]any{
		"nested": map[string]any{"a": 1},
		"list":   []any{map[string]any{"b": 2}},
	}

	dst := DeepCopy(src)
	dst["nested"].(map[string]any)["a"] = 100
	dst["list"].([]any)[0].(map[string]any)["b"] = 200

	if src["nested"].(map[string]any)["a"] != 1 {
		t.Error("nested map must be copied")
	}
	if src["list"].([]any)[0].(map[string]any)["b"] != 2 {
		t.Error("nested list must be copied")
	}

	if DeepCopy(nil) == nil {
		t.Error("copy of nil must be an empty map")
	}
}

func TestToObject(t *testing.T) {
	obj, err := ToObject(StepData{IsPassthrough: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["is_passthrough"] != true {
		t.Errorf("unexpected object %v", obj)
	}

	if _, err := ToObject([]int{1, 2}); err == nil {
		t.Error("expected error for non-object")
	}
}

func TestExecState_Transitions(t *testing.T) {
	if !ExecStateIdle.CanTransitionTo(ExecStateRunning) {
		t.Error("IDLE → RUNNING must be allowed")
	}
	if !ExecStateRunning.CanTransitionTo(ExecStateTerminal) {
		t.Error("RUNNING → TERMINAL must be allowed")
	}
	if ExecStateTerminal.CanTransitionTo(ExecStateRunning) {
		t.Error("TERMINAL is final")
	}
	if !ExecStateTerminal.IsTerminal() || ExecStateRunning.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}
