package components

import "time"

// getString извлекает строковое значение из конфига.
func getString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// getFloat извлекает числовое значение из конфига.
func getFloat(cfg map[string]any, key string, def float64) float64 {
	if v, ok := cfg[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return def
}

// getBool извлекает булево значение из конфига.
func getBool(cfg map[string]any, key string) bool {
	b, _ := cfg[key].(bool)
	return b
}

// getSeconds извлекает длительность в секундах.
func getSeconds(cfg map[string]any, key string, def time.Duration) time.Duration {
	sec := getFloat(cfg, key, 0)
	if sec <= 0 {
		return def
	}
	return time.Duration(sec * float64(time.Second))
}

// getStringMap извлекает map[string]string из конфига.
func getStringMap(cfg map[string]any, key string) map[string]string {
	switch m := cfg[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		result := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				result[k] = s
			}
		}
		return result
	}
	return nil
}
