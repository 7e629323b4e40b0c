package components

import (
	"context"
	"fmt"

	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/execution"
)

// Transform — функция "transform".
//
// Config:
//   - mapping (object): шаблон тела нового сообщения.
//     Без mapping сообщение передаётся дальше без изменений.
//   - reply (bool): отправить результат ответом на синхронный вызов
//   - status_code (number): код ответа при reply. Default: 200
type Transform struct{}

var _ execution.Processor = (*Transform)(nil)

// Process строит новое сообщение по mapping.
func (t *Transform) Process(_ context.Context, e execution.Emitter, msg *domain.Message, cfg, snapshot map[string]any) (any, error) {
	body := msg.Body

	if mapping, ok := cfg["mapping"]; ok && mapping != nil {
		if _, isMap := mapping.(map[string]any); !isMap {
			return nil, fmt.Errorf("%w: mapping must be an object", ErrInvalidConfig)
		}
		rendered, err := RenderValue(mapping, NewTemplateContext(msg, snapshot))
		if err != nil {
			return nil, err
		}
		body = rendered
	}

	if getBool(cfg, "reply") {
		e.EmitHTTPReply(domain.HTTPReply{
			StatusCode: int(getFloat(cfg, "status_code", 200)),
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       body,
		})
		return nil, nil
	}

	return domain.NewMessage(body), nil
}
