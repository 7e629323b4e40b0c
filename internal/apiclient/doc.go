// Package apiclient — HTTP-клиент control-plane API.
//
// Все запросы используют basic auth (ELASTICIO_API_USERNAME / ELASTICIO_API_KEY).
// Транспортные ошибки и ответы 5xx повторяются с постоянной задержкой,
// ответы 4xx возвращаются сразу.
//
// Эндпоинты:
//
//	GET    /v1/tasks/{flowId}/steps/{stepId}                  — конфигурация шага
//	PUT    /v1/accounts/{accountId}                           — ключи учётной записи
//	POST   /sailor-support/hooks/task/{flowId}/startup/data   — сохранить результат startup
//	GET    /sailor-support/hooks/task/{flowId}/startup/data   — прочитать результат startup
//	DELETE /sailor-support/hooks/task/{flowId}/startup/data   — удалить результат startup
package apiclient
