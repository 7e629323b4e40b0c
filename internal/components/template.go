package components

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/sailor/internal/domain"
)

// TemplateContext — данные, доступные в шаблонах конфигурации.
type TemplateContext struct {
	Body        any
	Headers     map[string]string
	Attachments map[string]any
	Passthrough map[string]any
	Snapshot    map[string]any
}

// NewTemplateContext строит контекст из входящего сообщения и snapshot.
func NewTemplateContext(msg *domain.Message, snapshot map[string]any) *TemplateContext {
	if msg == nil {
		msg = domain.NewMessage(nil)
	}
	if snapshot == nil {
		snapshot = make(map[string]any)
	}
	return &TemplateContext{
		Body:        msg.Body,
		Headers:     msg.Headers,
		Attachments: msg.Attachments,
		Passthrough: msg.Passthrough,
		Snapshot:    snapshot,
	}
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — значение по умолчанию для пустого аргумента
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v != nil {
				if s, ok := v.(string); ok && s == "" {
					continue
				}
				return v
			}
		}
		return nil
	},

	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// Render рендерит строковый шаблон. Строка без "{{" возвращается как есть.
func Render(tmpl string, tc *TemplateContext) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, tc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рекурсивно рендерит строки внутри map и slice.
// Остальные значения возвращаются без изменений.
func RenderValue(value any, tc *TemplateContext) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case string:
		return Render(v, tc)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, tc)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, tc)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			result[i] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию функции.
func RenderConfig(cfg map[string]any, tc *TemplateContext) (map[string]any, error) {
	if cfg == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(cfg, tc)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]any), nil
}
