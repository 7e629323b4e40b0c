package execution

// Kind — тип события выполнения.
type Kind string

const (
	KindData           Kind = "data"
	KindError          Kind = "error"
	KindRebound        Kind = "rebound"
	KindSnapshot       Kind = "snapshot"
	KindUpdateSnapshot Kind = "updateSnapshot"
	KindUpdateKeys     Kind = "updateKeys"
	KindHTTPReply      Kind = "httpReply"
	KindEnd            Kind = "end"
)

// Event — событие, выпущенное функцией компонента или самим Exec.
type Event struct {
	Kind Kind

	// Payload — значение, переданное в Emit*. Для End — nil.
	Payload any

	// Final — End, выпущенный Exec после завершения функции.
	// End, выпущенные функцией, передаются с Final=false.
	Final bool
}

// Emitter — методы, которыми функция компонента сообщает о результатах.
// Безопасен для вызова из нескольких горутин.
type Emitter interface {
	// EmitData отправляет сообщение дальше по flow.
	EmitData(data any)

	// EmitError сообщает об ошибке выполнения.
	EmitError(err any)

	// EmitRebound просит повторить сообщение позже.
	EmitRebound(reason any)

	// EmitSnapshot заменяет snapshot шага.
	EmitSnapshot(snapshot any)

	// EmitUpdateSnapshot сливает delta с текущим snapshot.
	EmitUpdateSnapshot(delta any)

	// EmitUpdateKeys сохраняет новые ключи учётной записи.
	EmitUpdateKeys(keys any)

	// EmitHTTPReply отвечает на синхронный webhook-вызов.
	EmitHTTPReply(reply any)

	// EmitEnd сообщает о завершении обработки.
	EmitEnd()
}
