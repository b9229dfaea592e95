package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/internal/evaluator"
	"github.com/AregGevorgyan/tomatocode/internal/store"
	"github.com/AregGevorgyan/tomatocode/internal/ws"
	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// evaluationThreshold: drafts at or below this length are too short to
// be worth an evaluator call.
const evaluationThreshold = 10

func (e *Engine) handleJoinSession(ep ws.Endpoint, p types.JoinSessionPayload) error {
	if !types.IsValidSessionCode(p.Code) || !types.IsValidName(p.Name) {
		return types.ErrValidation
	}

	token, err := newReconnectToken()
	if err != nil {
		return fmt.Errorf("generate reconnect token: %w", err)
	}

	now := time.Now()
	snapshot, err := e.store.Update(context.Background(), p.Code, func(doc *types.Session) error {
		if !doc.Active {
			return types.ErrSessionInactive
		}
		// A join with an existing name replaces the record outright,
		// including an in-grace one: the newcomer owns the name.
		doc.Students[p.Name] = &types.Student{
			JoinedAt:         now,
			Code:             "",
			SocketEndpointID: ep.ID(),
			LastActive:       now,
			ReconnectToken:   token,
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.cancelGrace(p.Code, p.Name)
	if err := e.registry.Attach(p.Code, ep, types.RoleStudent, p.Name); err != nil {
		return err
	}

	e.sendSessionData(ep, snapshot, token)
	e.sendSlideChange(ep, snapshot)
	e.registry.BroadcastExcept(p.Code, ep.ID(), types.EventUserJoined, types.PresencePayload{
		Name:      p.Name,
		Timestamp: now,
	})

	e.logger.Info("student joined",
		zap.String("code", p.Code), zap.String("student", p.Name))
	return nil
}

func (e *Engine) handleTeacherJoin(ep ws.Endpoint, p types.TeacherJoinPayload) error {
	if !types.IsValidSessionCode(p.Code) || !types.IsValidName(p.Name) {
		return types.ErrValidation
	}

	snapshot, err := e.store.Update(context.Background(), p.Code, func(doc *types.Session) error {
		if !doc.Active {
			return types.ErrSessionInactive
		}
		doc.TeacherEndpointID = ep.ID()
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.registry.Attach(p.Code, ep, types.RoleTeacher, p.Name); err != nil {
		return err
	}
	e.scheduler.Start(p.Code)

	e.sendSessionData(ep, snapshot, "")

	e.logger.Info("teacher joined",
		zap.String("code", p.Code), zap.String("teacher", p.Name))
	return nil
}

func (e *Engine) handleReconnect(ep ws.Endpoint, p types.ReconnectPayload) error {
	if !types.IsValidSessionCode(p.Code) || !types.IsValidName(p.Name) || p.Token == "" {
		return types.ErrValidation
	}

	var draft string
	now := time.Now()
	snapshot, err := e.store.Update(context.Background(), p.Code, func(doc *types.Session) error {
		st, ok := doc.Students[p.Name]
		if !ok {
			return types.ErrBadReconnectToken
		}
		if st.ReconnectToken != p.Token {
			return types.ErrBadReconnectToken
		}
		t := now
		st.ReconnectedAt = &t
		st.DisconnectedAt = nil
		st.SocketEndpointID = ep.ID()
		st.LastActive = now
		draft = st.Code
		return nil
	})
	if err != nil {
		return err
	}

	e.cancelGrace(p.Code, p.Name)
	if err := e.registry.Attach(p.Code, ep, types.RoleStudent, p.Name); err != nil {
		return err
	}

	e.sendSessionData(ep, snapshot, p.Token)
	e.sendSlideChange(ep, snapshot)
	if draft != "" {
		_ = ep.Send(types.EventCodeRestore, types.CodeRestorePayload{
			Code:      draft,
			Timestamp: now,
		})
	}

	e.logger.Info("student reconnected",
		zap.String("code", p.Code), zap.String("student", p.Name))
	return nil
}

func (e *Engine) handleCodeUpdate(ep ws.Endpoint, p types.CodeUpdatePayload) error {
	member, ok := e.registry.Lookup(ep.ID())
	if !ok {
		return types.ErrForbidden
	}

	now := time.Now()
	if member.Role == types.RoleTeacher {
		// Teacher drafts go to the scratchpad only: no broadcast, no
		// evaluation.
		_, err := e.store.Update(context.Background(), member.Code, func(doc *types.Session) error {
			doc.CurrentCode = p.Code
			return nil
		})
		return err
	}

	// Last writer wins; ordering is arrival at the session lock.
	snapshot, err := e.store.Update(context.Background(), member.Code, func(doc *types.Session) error {
		st, ok := doc.Students[member.Name]
		if !ok {
			return store.ErrNotFound
		}
		st.Code = p.Code
		st.LastActive = now
		return nil
	})
	if err != nil {
		return err
	}

	e.registry.EmitToTeachers(member.Code, types.EventStudentCodeUpdate, types.StudentCodePayload{
		StudentName: member.Name,
		Code:        p.Code,
		Timestamp:   now,
	})

	if len(p.Code) > evaluationThreshold && e.evaluator.IsAvailable() &&
		e.limiter.Allow(evaluator.Key(member.Code, member.Name)) {
		prompt, _ := snapshot.SlideAt(snapshot.CurrentSlide)
		go e.evaluateDraft(member.Code, member.Name, prompt, p.Code)
	}
	return nil
}

// evaluateDraft runs off the dispatch path: the LM round trip must not
// block the endpoint's read loop. A result arriving after the student
// disconnected is discarded.
func (e *Engine) evaluateDraft(code, name, prompt, draft string) {
	defer e.recoverAsync("evaluate-draft")

	summary := e.evaluator.Evaluate(context.Background(), prompt, draft)

	_, err := e.store.Update(context.Background(), code, func(doc *types.Session) error {
		st, ok := doc.Students[name]
		if !ok || st.DisconnectedAt != nil {
			return store.ErrNotFound
		}
		s := summary
		st.Summary = &s
		return nil
	})
	if err != nil {
		e.logger.Debug("evaluation discarded",
			zap.String("code", code), zap.String("student", name), zap.Error(err))
		return
	}

	e.registry.EmitToTeachers(code, types.EventStudentSummaryUpdate, types.StudentSummaryPayload{
		StudentName: name,
		Summary:     summary,
		Timestamp:   time.Now(),
	})
}

func (e *Engine) handleUpdateSlide(ep ws.Endpoint, p types.UpdateSlidePayload) error {
	member, ok := e.registry.Lookup(ep.ID())
	if !ok || member.Role != types.RoleTeacher {
		return types.ErrForbidden
	}
	if p.SlideIndex == nil {
		return types.ErrValidation
	}
	return e.SetSlide(context.Background(), member.Code, *p.SlideIndex)
}

func (e *Engine) handleUpdateSlideData(ep ws.Endpoint, p types.UpdateSlideDataPayload) error {
	member, ok := e.registry.Lookup(ep.ID())
	if !ok || member.Role != types.RoleTeacher {
		return types.ErrForbidden
	}

	_, err := e.store.Update(context.Background(), member.Code, func(doc *types.Session) error {
		doc.Slides = p.Slides
		doc.SlidesWithCode = make(map[int]bool, len(p.SlidesWithCode))
		for _, idx := range p.SlidesWithCode {
			doc.SlidesWithCode[idx] = true
		}
		if !types.ValidSlideIndex(doc.CurrentSlide, len(doc.Slides)) {
			doc.CurrentSlide = 0
		}
		doc.UpdatedAt = time.Now()
		return nil
	})
	return err
}

func (e *Engine) handleExecuteCode(ep ws.Endpoint, p types.ExecuteCodePayload) error {
	member, ok := e.registry.Lookup(ep.ID())
	if !ok {
		return types.ErrForbidden
	}
	if !types.IsValidLanguage(p.Language) {
		return types.ErrValidation
	}

	// Sandbox runs take seconds; keep the read loop responsive.
	go e.runExecution(member, p)
	return nil
}

func (e *Engine) runExecution(member ws.Member, p types.ExecuteCodePayload) {
	defer e.recoverAsync("execute-code")

	execution, err := e.executor.Execute(context.Background(), p.Language, p.Code)
	if err != nil {
		// Sandbox refusals are recovered locally, never protocol errors.
		execution = types.Execution{
			Result:    "Error: " + err.Error(),
			Error:     err.Error(),
			Timestamp: time.Now(),
		}
	}

	if member.Role == types.RoleStudent {
		_, updateErr := e.store.Update(context.Background(), member.Code, func(doc *types.Session) error {
			st, ok := doc.Students[member.Name]
			if !ok {
				return store.ErrNotFound
			}
			ex := execution
			st.LastExecution = &ex
			st.LastActive = time.Now()
			return nil
		})
		if updateErr != nil && !errors.Is(updateErr, store.ErrNotFound) {
			e.logger.Warn("persisting execution failed",
				zap.String("code", member.Code), zap.Error(updateErr))
		}
	}

	_ = member.Endpoint.Send(types.EventExecutionResult, types.ExecutionResultPayload{
		Result:    execution.Result,
		Error:     execution.Error,
		Timestamp: execution.Timestamp,
	})

	if member.Role == types.RoleStudent {
		e.registry.EmitToTeachers(member.Code, types.EventStudentExecutionResult, types.StudentExecutionPayload{
			StudentName: member.Name,
			Result:      execution.Result,
			Error:       execution.Error,
			Timestamp:   execution.Timestamp,
		})
	}
}

func (e *Engine) sendSessionData(ep ws.Endpoint, snapshot *types.Session, token string) {
	_ = ep.Send(types.EventSessionData, types.SessionDataPayload{
		Session:        snapshot.Sanitized(),
		ReconnectToken: token,
	})
}

func (e *Engine) sendSlideChange(ep ws.Endpoint, snapshot *types.Session) {
	prompt, hasTask := snapshot.SlideAt(snapshot.CurrentSlide)
	_ = ep.Send(types.EventSlideChange, types.SlideChangePayload{
		Index:         snapshot.CurrentSlide,
		HasCodeEditor: hasTask,
		Prompt:        prompt,
		Timestamp:     time.Now(),
	})
}
