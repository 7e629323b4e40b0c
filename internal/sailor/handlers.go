package sailor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/sailor/internal/crypto"
	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/execution"
	"github.com/shaiso/sailor/internal/mq"
	"github.com/shaiso/sailor/internal/telemetry"
)

// Заголовки сообщения.
const (
	headerExecID          = "execId"
	headerTaskID          = "taskId"
	headerUserID          = "userId"
	headerWorkspaceID     = "workspaceId"
	headerContainerID     = "containerId"
	headerMessageID       = "messageId"
	headerParentMessageID = "parentMessageId"
	headerStepID          = "stepId"
	headerCompID          = "compId"
	headerFunction        = "function"
	headerStart           = "start"
	headerEnd             = "end"
	headerCID             = "cid"

	metaHeaderPrefix = "x-eio-meta-"

	// accountKey — ключ конфигурации с id учётной записи для updateKeys.
	accountKey = "_account"
)

// ProcessMessage обрабатывает одно сообщение. Реализует mq.Handler.
//
// Возвращается после ack/reject (end или timeout). События, выпущенные
// после этого, дочитываются в фоне.
func (s *Sailor) ProcessMessage(ctx context.Context, d *mq.Delivery) error {
	s.wg.Add(1)
	defer s.wg.Done()

	incoming := d.Raw.Headers
	logger := telemetry.WithMessage(s.logger,
		headerString(incoming, headerExecID),
		headerString(incoming, headerMessageID),
		d.Raw.DeliveryTag,
	)

	// Чужие и повреждённые сообщения отклоняются без публикации.
	if err := s.validate(incoming); err != nil {
		return err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "sailor.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("sailor.flow_id", s.settings.FlowID),
			attribute.String("sailor.step_id", s.settings.StepID),
			attribute.String("sailor.function", s.settings.Function),
			attribute.String("sailor.exec_id", headerString(incoming, headerExecID)),
		),
	)

	ms := newMessageState(d, s.outboundHeaders(incoming), logger, span)

	// Публикации и вызовы API не прерываются остановкой consumer'а.
	pubCtx := context.WithoutCancel(ctx)

	fn, err := s.loadFunction()
	if err != nil {
		logger.Error("failed to load function", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		span.End()

		if sendErr := s.conn.SendError(pubCtx, domain.NormalizeError(err), ms.outHeaders(), d.Content()); sendErr != nil {
			logger.Error("failed to publish load error", "error", sendErr)
		}
		return err
	}

	s.inFlight.Add(1)
	telemetry.MessagesInFlight.Inc()

	logger.Info("processing message")

	exec := execution.New(logger)
	events := exec.Process(pubCtx, fn, d.Message, s.step.Config(), s.step.Snapshot())

	timer := time.NewTimer(s.settings.Timeout)
	defer timer.Stop()

	for !ms.ended.Load() {
		select {
		case ev, ok := <-events:
			if !ok {
				// Канал закрывается только после End, сюда не доходим.
				s.onEnd(ms, true)
				break
			}
			s.handleEvent(pubCtx, ms, ev)

		case <-timer.C:
			logger.Warn("processing timed out", "timeout", s.settings.Timeout)
			span.AddEvent("timeout")
			s.onEnd(ms, true)
		}
	}

	s.drain(pubCtx, ms, events)
	return nil
}

// drain дочитывает события после end и ждёт публикаций сообщения.
func (s *Sailor) drain(ctx context.Context, ms *messageState, events <-chan execution.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ms.span.End()

		for ev := range events {
			s.handleEvent(ctx, ms, ev)
		}

		if err := ms.publishes.Wait(); err != nil {
			ms.logger.Warn("message finished with publish errors", "error", err)
			ms.span.RecordError(err)
		}
		ms.logger.Debug("message processing finished")
	}()
}

// handleEvent реагирует на одно событие выполнения.
func (s *Sailor) handleEvent(ctx context.Context, ms *messageState, ev execution.Event) {
	switch ev.Kind {
	case execution.KindData:
		s.onData(ctx, ms, ev.Payload)
	case execution.KindError:
		s.onError(ctx, ms, ev.Payload)
	case execution.KindRebound:
		s.onRebound(ctx, ms, ev.Payload)
	case execution.KindSnapshot:
		s.onSnapshot(ctx, ms, ev.Payload)
	case execution.KindUpdateSnapshot:
		s.onUpdateSnapshot(ctx, ms, ev.Payload)
	case execution.KindUpdateKeys:
		s.onUpdateKeys(ctx, ms, ev.Payload)
	case execution.KindHTTPReply:
		s.onHTTPReply(ctx, ms, ev.Payload)
	case execution.KindEnd:
		s.onEnd(ms, ev.Final)
	default:
		ms.logger.Warn("unknown event kind", "kind", ev.Kind)
	}
}

// publish выполняет публикацию в группе сообщения.
func (s *Sailor) publish(ms *messageState, kind string, fn func() error) {
	ms.publishes.Go(func() error {
		if err := fn(); err != nil {
			ms.logger.Error("failed to publish", "kind", kind, "error", err)
			return fmt.Errorf("%s: %w", kind, err)
		}
		return nil
	})
}

func (s *Sailor) onData(ctx context.Context, ms *messageState, payload any) {
	msg, err := domain.ToMessage(payload)
	if err != nil {
		ms.logger.Error("invalid data emitted", "error", err)
		s.onError(ctx, ms, err)
		return
	}

	out := *msg
	if out.ID == "" {
		out.ID = uuid.NewString()
	}

	if s.step.IsPassthrough() {
		out.Passthrough = s.passthrough(ms.delivery.Message, out)
	}

	headers := ms.outHeaders()
	headers[headerEnd] = time.Now().UnixMilli()
	headers[headerMessageID] = out.ID

	ms.logger.Debug("data emitted", "out_message_id", out.ID)
	s.publish(ms, "data", func() error {
		return s.conn.SendData(ctx, &out, headers)
	})
}

// passthrough добавляет исходящее сообщение к passthrough входящего под stepId.
func (s *Sailor) passthrough(in *domain.Message, out domain.Message) map[string]any {
	result := make(map[string]any)
	if in != nil {
		for k, v := range in.Passthrough {
			result[k] = v
		}
	}

	self := out
	self.Passthrough = nil
	result[s.settings.StepID] = &self
	return result
}

func (s *Sailor) onError(ctx context.Context, ms *messageState, payload any) {
	info := domain.NormalizeError(payload)
	ms.errors.Add(1)

	ms.logger.Error("task error", "error_name", info.Name, "error", info.Message)
	ms.span.RecordError(fmt.Errorf("%w: %s", ErrTask, info.Message))
	ms.span.SetStatus(codes.Error, info.Message)

	headers := ms.outHeaders()
	s.publish(ms, "error", func() error {
		return s.conn.SendError(ctx, info, headers, ms.delivery.Content())
	})
}

func (s *Sailor) onRebound(ctx context.Context, ms *messageState, payload any) {
	info := domain.NormalizeError(payload)

	ms.logger.Info("rebound requested", "reason", info.Message)
	ms.span.AddEvent("rebound", trace.WithAttributes(attribute.String("reason", info.Message)))

	// За лимитом rebound заменяется ошибкой, и сообщение отклоняется при end.
	if s.conn.ReboundExhausted(ms.delivery) {
		ms.errors.Add(1)
		ms.span.SetStatus(codes.Error, mq.ReboundLimitMessage)
	}

	headers := ms.outHeaders()
	headers[mq.HeaderReboundReason] = info.Message
	s.publish(ms, "rebound", func() error {
		return s.conn.SendRebound(ctx, info, ms.delivery, headers)
	})
}

func (s *Sailor) onSnapshot(ctx context.Context, ms *messageState, payload any) {
	snapshot, err := domain.ToObject(payload)
	if err != nil {
		ms.logger.Error("snapshot must be an object, ignored", "error", err)
		return
	}
	snapshot = domain.DeepCopy(snapshot)
	s.step.ReplaceSnapshot(snapshot)

	headers := ms.outHeaders()
	s.publish(ms, "snapshot", func() error {
		s.conn.SendSnapshot(ctx, snapshot, headers)
		return nil
	})
}

func (s *Sailor) onUpdateSnapshot(ctx context.Context, ms *messageState, payload any) {
	delta, err := domain.ToObject(payload)
	if err != nil {
		ms.logger.Error("snapshot update must be an object, ignored", "error", err)
		return
	}
	if _, ok := delta["$set"]; ok {
		ms.logger.Warn("snapshot update operators are not supported, ignored")
		return
	}

	delta = domain.DeepCopy(delta)
	s.step.MergeSnapshot(delta)

	headers := ms.outHeaders()
	s.publish(ms, "snapshot", func() error {
		s.conn.SendSnapshot(ctx, delta, headers)
		return nil
	})
}

// onUpdateKeys сохраняет ключи учётной записи. Ошибка обрабатывается как событие error.
// Вызов выполняется до обработки следующего события, поэтому успевает
// повлиять на ack/reject.
func (s *Sailor) onUpdateKeys(ctx context.Context, ms *messageState, payload any) {
	accountID, _ := s.step.Config()[accountKey].(string)
	if accountID == "" {
		s.onError(ctx, ms, ErrNoAccount)
		return
	}

	if err := s.api.UpdateAccountKeys(ctx, accountID, payload); err != nil {
		ms.logger.Error("failed to update account keys", "account_id", accountID, "error", err)
		s.onError(ctx, ms, fmt.Errorf("update keys: %w", err))
		return
	}
	ms.logger.Info("account keys updated", "account_id", accountID)
}

func (s *Sailor) onHTTPReply(ctx context.Context, ms *messageState, payload any) {
	headers := ms.outHeaders()
	if headerString(headers, mq.HeaderReplyTo) == "" {
		ms.logger.Error("httpReply failed", "error", mq.ErrNoReplyTo)
		return
	}

	s.publish(ms, "http_reply", func() error {
		return s.conn.SendHTTPReply(ctx, payload, headers)
	})
}

// onEnd подтверждает или отклоняет сообщение. Только первый вызов имеет эффект.
// Публикации сообщения не ожидаются.
func (s *Sailor) onEnd(ms *messageState, final bool) {
	if !ms.ended.CompareAndSwap(false, true) {
		if final {
			ms.logger.Debug("execution finished after end")
		} else {
			ms.logger.Warn("end emitted more than once, ignored")
		}
		return
	}

	outcome := "ack"
	var err error
	if n := ms.errors.Load(); n > 0 {
		outcome = "reject"
		ms.logger.Info("message processed with errors, rejecting", "errors", n)
		err = s.conn.Reject(ms.delivery)
	} else {
		ms.logger.Info("message processed, acknowledging")
		err = s.conn.Ack(ms.delivery)
	}
	if err != nil {
		ms.logger.Error("failed to settle message", "outcome", outcome, "error", err)
	}

	ms.span.SetAttributes(attribute.String("sailor.outcome", outcome))
	telemetry.ProcessDuration.WithLabelValues(outcome).Observe(time.Since(ms.started).Seconds())
	telemetry.MessagesInFlight.Dec()
	s.inFlight.Add(-1)
}

// validate проверяет обязательные заголовки и принадлежность сообщения flow.
func (s *Sailor) validate(h amqp.Table) error {
	var missing []string
	for _, name := range []string{headerExecID, headerTaskID, headerUserID} {
		if headerString(h, name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing headers: %s", ErrValidation, strings.Join(missing, ", "))
	}

	if taskID := headerString(h, headerTaskID); taskID != s.settings.FlowID {
		return fmt.Errorf("%w: message task id %q does not match flow id %q", ErrValidation, taskID, s.settings.FlowID)
	}
	return nil
}

// outboundHeaders строит заголовки исходящих сообщений.
func (s *Sailor) outboundHeaders(in amqp.Table) amqp.Table {
	out := make(amqp.Table, len(in)+8)

	for _, name := range []string{headerTaskID, headerExecID, headerUserID, headerWorkspaceID, headerContainerID} {
		if v := headerString(in, name); v != "" {
			out[name] = v
		}
	}
	if _, ok := out[headerWorkspaceID]; !ok && s.settings.WorkspaceID != "" {
		out[headerWorkspaceID] = s.settings.WorkspaceID
	}
	if _, ok := out[headerContainerID]; !ok && s.settings.ContainerID != "" {
		out[headerContainerID] = s.settings.ContainerID
	}

	for name, v := range in {
		if strings.HasPrefix(strings.ToLower(name), metaHeaderPrefix) {
			out[name] = v
		}
	}

	if v := headerString(in, mq.HeaderReplyTo); v != "" {
		out[mq.HeaderReplyTo] = v
	}
	if v := headerString(in, headerMessageID); v != "" {
		out[headerParentMessageID] = v
	}

	out[headerStepID] = s.settings.StepID
	out[headerCompID] = s.settings.CompID
	out[headerFunction] = s.settings.Function
	out[headerStart] = time.Now().UnixMilli()
	out[headerCID] = crypto.ID

	return out
}

// headerString возвращает строковое значение AMQP заголовка.
func headerString(h amqp.Table, name string) string {
	switch v := h[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}
