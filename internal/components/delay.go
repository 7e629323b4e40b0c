package components

import (
	"context"
	"time"

	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/execution"
)

// Delay — функция "delay".
//
// Ждёт duration_sec секунд (default: 1) и пропускает сообщение дальше.
// В snapshot сохраняются lastRun (RFC3339) и счётчик runs.
type Delay struct {
	// Now — источник времени (default: time.Now).
	Now func() time.Time
}

var _ execution.Processor = (*Delay)(nil)

// Process выполняет задержку.
func (d *Delay) Process(ctx context.Context, e execution.Emitter, msg *domain.Message, cfg, snapshot map[string]any) (any, error) {
	duration := getSeconds(cfg, "duration_sec", time.Second)

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	runs := getFloat(snapshot, "runs", 0) + 1
	e.EmitSnapshot(map[string]any{
		"lastRun": d.now().UTC().Format(time.RFC3339),
		"runs":    runs,
	})

	out := domain.NewMessage(msg.Body)
	out.Attachments = msg.Attachments
	return out, nil
}

func (d *Delay) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
