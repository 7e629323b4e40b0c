// Package execution реализует state machine выполнения одного сообщения.
//
// Exec вызывает функцию компонента в отдельной горутине и передаёт
// оркестратору упорядоченную последовательность событий:
//
//	data | error | rebound | snapshot | updateSnapshot | updateKeys | httpReply ... end
//
// Exec не подтверждает сообщения и ничего не знает о брокере.
// Последнее событие — всегда End, выпущенный самим Exec;
// после него канал событий закрывается.
package execution
