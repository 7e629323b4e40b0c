// Package components содержит встроенные функции компонента:
//
//   - http — HTTP-запрос; 429 и 5xx приводят к rebound
//   - delay — ожидание, snapshot хранит время последнего запуска
//   - transform — построение нового сообщения по шаблонам
//
// Строковые значения конфигурации — Go templates над входящим сообщением:
//
//	{{ .Body.customer.email }}
//	{{ .Headers.reply_to }}
//	{{ .Passthrough.step_1.body.id }}
//	{{ .Snapshot.cursor }}
package components
