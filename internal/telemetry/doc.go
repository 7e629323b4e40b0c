// Package telemetry обеспечивает наблюдаемость sailor.
//
// Включает:
//   - logging.go — structured logging через slog (с trace_id/span_id)
//   - metrics.go — Prometheus метрики обработки сообщений
//   - tracing.go — OpenTelemetry tracer provider
//
// Метрики экспортируются на /metrics endpoint вместе с /healthz.
package telemetry
