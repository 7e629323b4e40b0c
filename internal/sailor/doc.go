// Package sailor связывает очередь шага с функцией компонента.
//
// Sailor отвечает за:
//   - Получение конфигурации шага из control-plane API
//   - Hooks компонента: startup, init, shutdown
//   - Обработку сообщений: валидация заголовков, запуск функции,
//     публикация событий, ack/reject
//   - Graceful shutdown: ожидание сообщений в обработке
//
// Обработка сообщения:
//
//	delivery → validate → load function → execution.Exec → events → publish
//	                                                         └→ end → ack | reject
//
// Ack выполняется сразу при первом end и не ждёт публикаций,
// выпущенных функцией; публикации дожидаются отдельно, в фоне.
package sailor
