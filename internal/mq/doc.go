// Package mq — транспортный слой sailor поверх RabbitMQ.
//
// Структура:
//   - connection.go — соединение и два канала (subscribe и publish), fatal при разрыве
//   - consumer.go   — потребление очереди, расшифровка, ack/reject
//   - publisher.go  — публикация data, error, httpReply, snapshot
//   - rebound.go    — повторная доставка с экспоненциальной задержкой
//   - topology.go   — exchange, routing keys, служебные заголовки
//
// Бизнес-логики здесь нет: пакет не знает ни о компонентах, ни об ошибках
// выполнения. Ошибки публикации логируются и не пробрасываются.
package mq
