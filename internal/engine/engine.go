package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/internal/evaluator"
	"github.com/AregGevorgyan/tomatocode/internal/store"
	"github.com/AregGevorgyan/tomatocode/internal/ws"
	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// Executor is the slice of the sandbox the engine needs.
type Executor interface {
	Execute(ctx context.Context, language, source string) (types.Execution, error)
}

// Evaluator is the slice of the LM client the engine needs.
type Evaluator interface {
	Evaluate(ctx context.Context, prompt, code string) types.Summary
	IsAvailable() bool
}

// SummaryScheduler controls the per-session summary loops.
type SummaryScheduler interface {
	Start(code string)
	Stop(code string)
	StopAll()
}

// Engine is the session state machine: it validates inbound events,
// mutates the session store, and drives targeted fan-out through the
// room registry.
type Engine struct {
	store     *store.Store
	registry  *ws.Registry
	executor  Executor
	evaluator Evaluator
	limiter   *evaluator.KeyedLimiter
	scheduler SummaryScheduler
	grace     time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	graceTimers map[string]*time.Timer // sessionCode/studentName
}

func New(st *store.Store, registry *ws.Registry, exec Executor, eval Evaluator, limiter *evaluator.KeyedLimiter, sched SummaryScheduler, grace time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		store:       st,
		registry:    registry,
		executor:    exec,
		evaluator:   eval,
		limiter:     limiter,
		scheduler:   sched,
		grace:       grace,
		logger:      logger,
		graceTimers: make(map[string]*time.Timer),
	}
}

// Dispatch routes one inbound event to its handler. A panic inside a
// handler is contained here: it is logged and reported to the caller as
// an error event without tearing down the session.
func (e *Engine) Dispatch(ep ws.Endpoint, env types.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				zap.String("event", env.Event),
				zap.String("endpoint", ep.ID()),
				zap.Any("panic", r))
			e.sendError(ep, "internal error")
		}
	}()

	var err error
	switch env.Event {
	case types.EventJoinSession:
		err = decodeInto(env.Data, func(p types.JoinSessionPayload) error {
			return e.handleJoinSession(ep, p)
		})
	case types.EventTeacherJoin:
		err = decodeInto(env.Data, func(p types.TeacherJoinPayload) error {
			return e.handleTeacherJoin(ep, p)
		})
	case types.EventReconnect:
		err = decodeInto(env.Data, func(p types.ReconnectPayload) error {
			return e.handleReconnect(ep, p)
		})
	case types.EventCodeUpdate:
		err = decodeInto(env.Data, func(p types.CodeUpdatePayload) error {
			return e.handleCodeUpdate(ep, p)
		})
	case types.EventUpdateSlide:
		err = decodeInto(env.Data, func(p types.UpdateSlidePayload) error {
			return e.handleUpdateSlide(ep, p)
		})
	case types.EventUpdateSlideData:
		err = decodeInto(env.Data, func(p types.UpdateSlideDataPayload) error {
			return e.handleUpdateSlideData(ep, p)
		})
	case types.EventExecuteCode:
		err = decodeInto(env.Data, func(p types.ExecuteCodePayload) error {
			return e.handleExecuteCode(ep, p)
		})
	default:
		err = types.ErrValidation
	}

	if err != nil {
		e.sendError(ep, errorMessage(err))
	}
}

// Disconnected handles an endpoint drop of any cause: explicit
// disconnect, read error, or idle timeout.
func (e *Engine) Disconnected(ep ws.Endpoint) {
	member, ok := e.registry.Detach(ep.ID())
	if !ok {
		return // never joined
	}

	left := types.PresencePayload{
		Name:      member.Name,
		Timestamp: time.Now(),
	}

	switch member.Role {
	case types.RoleTeacher:
		e.registry.Broadcast(member.Code, types.EventUserLeft, left)
		if e.registry.TeacherCount(member.Code) == 0 {
			e.scheduler.Stop(member.Code)
		}
	case types.RoleStudent:
		if !e.beginGrace(member.Code, member.Name, ep.ID()) {
			return // a newer endpoint owns the name; this drop is stale
		}
		e.registry.Broadcast(member.Code, types.EventUserLeft, left)
	}
}

// beginGrace marks the student disconnected and arms the removal timer.
// The timer belongs to the engine, not the endpoint: the endpoint may be
// long gone by the time it fires. A drop from an endpoint that no longer
// owns the name is ignored, so a rejoin on a fresh socket survives the
// old socket's late close.
func (e *Engine) beginGrace(code, name, endpointID string) bool {
	now := time.Now()
	_, err := e.store.Update(context.Background(), code, func(doc *types.Session) error {
		st, ok := doc.Students[name]
		if !ok {
			return store.ErrNotFound
		}
		if st.SocketEndpointID != endpointID {
			return store.ErrNotFound
		}
		t := now
		st.DisconnectedAt = &t
		st.ReconnectedAt = nil
		return nil
	})
	if err != nil {
		return false
	}

	key := graceKey(code, name)
	e.mu.Lock()
	if old, ok := e.graceTimers[key]; ok {
		old.Stop()
	}
	e.graceTimers[key] = time.AfterFunc(e.grace, func() {
		e.expireGrace(code, name)
	})
	e.mu.Unlock()
	return true
}

// expireGrace removes the student if the grace window elapsed without a
// reconnect.
func (e *Engine) expireGrace(code, name string) {
	e.mu.Lock()
	delete(e.graceTimers, graceKey(code, name))
	e.mu.Unlock()

	_, err := e.store.Update(context.Background(), code, func(doc *types.Session) error {
		st, ok := doc.Students[name]
		if !ok {
			return store.ErrNotFound
		}
		if st.DisconnectedAt == nil || st.ReconnectedAt != nil {
			return store.ErrNotFound // reconnected, keep the record
		}
		delete(doc.Students, name)
		return nil
	})
	if err == nil {
		e.logger.Info("student removed after grace window",
			zap.String("code", code), zap.String("student", name))
	}
}

// cancelGrace stops a pending removal, if any.
func (e *Engine) cancelGrace(code, name string) {
	key := graceKey(code, name)
	e.mu.Lock()
	if t, ok := e.graceTimers[key]; ok {
		t.Stop()
		delete(e.graceTimers, key)
	}
	e.mu.Unlock()
}

// EndSession deactivates the session, stops its summary loop, and
// notifies the room. Used by the HTTP surface.
func (e *Engine) EndSession(ctx context.Context, code string) error {
	_, err := e.store.Update(ctx, code, func(doc *types.Session) error {
		doc.Active = false
		doc.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	e.scheduler.Stop(code)
	e.registry.Broadcast(code, types.EventSessionEnded, types.PresencePayload{
		Timestamp: time.Now(),
	})
	return nil
}

// DeleteSession tears a session down entirely: grace timers, scheduler,
// document, and room membership.
func (e *Engine) DeleteSession(ctx context.Context, code string) error {
	doc, err := e.store.Get(code)
	if err != nil {
		return err
	}
	for name := range doc.Students {
		e.cancelGrace(code, name)
	}
	e.scheduler.Stop(code)
	if err := e.store.Delete(ctx, code); err != nil {
		return err
	}
	e.registry.Broadcast(code, types.EventSessionEnded, types.PresencePayload{
		Timestamp: time.Now(),
	})
	return nil
}

// SetSlide applies the same mutation and broadcast as the realtime
// update-slide event. Used by the HTTP surface.
func (e *Engine) SetSlide(ctx context.Context, code string, index int) error {
	var prompt string
	var hasTask bool
	_, err := e.store.Update(ctx, code, func(doc *types.Session) error {
		if !types.ValidSlideIndex(index, len(doc.Slides)) {
			return types.ErrValidation
		}
		doc.CurrentSlide = index
		doc.UpdatedAt = time.Now()
		prompt, hasTask = doc.SlideAt(index)
		return nil
	})
	if err != nil {
		return err
	}
	e.registry.Broadcast(code, types.EventSlideChange, types.SlideChangePayload{
		Index:         index,
		HasCodeEditor: hasTask,
		Prompt:        prompt,
		Timestamp:     time.Now(),
	})
	return nil
}

// Shutdown stops the schedulers, cancels every grace timer, and closes
// all endpoints.
func (e *Engine) Shutdown() {
	e.scheduler.StopAll()

	e.mu.Lock()
	for key, t := range e.graceTimers {
		t.Stop()
		delete(e.graceTimers, key)
	}
	e.mu.Unlock()

	e.registry.CloseAll()
}

// recoverAsync contains panics on the engine's background goroutines.
func (e *Engine) recoverAsync(task string) {
	if r := recover(); r != nil {
		e.logger.Error("background task panicked",
			zap.String("task", task), zap.Any("panic", r))
	}
}

func (e *Engine) sendError(ep ws.Endpoint, message string) {
	if err := ep.Send(types.EventError, types.ErrorPayload{Message: message}); err != nil {
		e.logger.Debug("error event delivery failed",
			zap.String("endpoint", ep.ID()), zap.Error(err))
	}
}

// decodeInto unmarshals the envelope payload into the handler's typed
// argument; malformed payloads become validation errors with no state
// change.
func decodeInto[T any](data json.RawMessage, handler func(T) error) error {
	var payload T
	if len(data) == 0 {
		return types.ErrValidation
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.ErrValidation
	}
	return handler(payload)
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrValidation):
		return "invalid payload"
	case errors.Is(err, store.ErrNotFound):
		return "session not found"
	case errors.Is(err, types.ErrSessionInactive):
		return "session is not active"
	case errors.Is(err, types.ErrForbidden):
		return "not allowed for this role"
	case errors.Is(err, types.ErrBadReconnectToken):
		return "reconnect failed"
	default:
		return "internal error"
	}
}

func graceKey(code, name string) string {
	return code + "/" + name
}

// newReconnectToken returns a random 128-bit hex token.
func newReconnectToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
