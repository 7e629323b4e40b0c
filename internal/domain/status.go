package domain

// ExecState — состояние выполнения одного сообщения.
//
// Жизненный цикл:
//
//	IDLE → RUNNING → TERMINAL
type ExecState string

const (
	// ExecStateIdle — выполнение создано, функция ещё не вызвана.
	ExecStateIdle ExecState = "IDLE"

	// ExecStateRunning — функция компонента выполняется.
	ExecStateRunning ExecState = "RUNNING"

	// ExecStateTerminal — отправлен финальный сигнал end.
	ExecStateTerminal ExecState = "TERMINAL"
)

// IsTerminal возвращает true, если выполнение завершено.
func (s ExecState) IsTerminal() bool {
	return s == ExecStateTerminal
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (s ExecState) CanTransitionTo(next ExecState) bool {
	switch s {
	case ExecStateIdle:
		return next == ExecStateRunning || next == ExecStateTerminal
	case ExecStateRunning:
		return next == ExecStateTerminal
	default:
		return false
	}
}
