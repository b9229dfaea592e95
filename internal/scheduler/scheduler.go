package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/internal/evaluator"
	"github.com/AregGevorgyan/tomatocode/internal/store"
	"github.com/AregGevorgyan/tomatocode/internal/ws"
	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// Evaluator is the slice of the LM client the scheduler needs.
type Evaluator interface {
	Evaluate(ctx context.Context, prompt, code string) types.Summary
	IsAvailable() bool
}

const (
	batchSize         = 5
	defaultBatchPause = 5 * time.Second
)

// Manager owns one periodic summary loop per session. A loop runs while
// at least one teacher is attached; the engine starts it on teacher-join
// and stops it when the last teacher leaves or the session ends.
type Manager struct {
	store      *store.Store
	registry   *ws.Registry
	eval       Evaluator
	limiter    *evaluator.KeyedLimiter
	interval   time.Duration
	batchPause time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(st *store.Store, registry *ws.Registry, eval Evaluator, limiter *evaluator.KeyedLimiter, interval time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		store:      st,
		registry:   registry,
		eval:       eval,
		limiter:    limiter,
		interval:   interval,
		batchPause: defaultBatchPause,
		logger:     logger,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start launches the summary loop for a session. Idempotent: a second
// start while a loop is running is a no-op.
func (m *Manager) Start(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.cancels[code]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[code] = cancel
	m.wg.Add(1)
	go m.run(ctx, code)
	m.logger.Info("summary scheduler started", zap.String("code", code))
}

// Stop halts the loop for a session, if any.
func (m *Manager) Stop(code string) {
	m.mu.Lock()
	cancel, ok := m.cancels[code]
	if ok {
		delete(m.cancels, code)
	}
	m.mu.Unlock()
	if ok {
		cancel()
		m.logger.Info("summary scheduler stopped", zap.String("code", code))
	}
}

// Running reports whether a loop exists for the session.
func (m *Manager) Running(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancels[code]
	return ok
}

// StopAll halts every loop and waits for them to drain. Used on
// graceful shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for code, cancel := range m.cancels {
		cancel()
		delete(m.cancels, code)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, code string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx, code)
		case <-ctx.Done():
			return
		}
	}
}

// sweep snapshots the session and evaluates every connected student with
// a draft, in batches of five with a pause between batches so the
// upstream model is not hit in bursts. A failure on one student never
// aborts the pass.
func (m *Manager) sweep(ctx context.Context, code string) {
	if !m.eval.IsAvailable() {
		return
	}

	doc, err := m.store.Get(code)
	if err != nil || !doc.Active {
		m.Stop(code)
		return
	}
	if m.registry.TeacherCount(code) == 0 {
		return
	}

	prompt, _ := doc.SlideAt(doc.CurrentSlide)

	names := make([]string, 0, len(doc.Students))
	for name := range doc.Students {
		names = append(names, name)
	}
	sort.Strings(names)

	calls := 0
	for _, name := range names {
		st := doc.Students[name]
		if st.Code == "" || st.DisconnectedAt != nil {
			continue
		}
		if !m.limiter.Allow(evaluator.Key(code, name)) {
			continue
		}

		if calls > 0 && calls%batchSize == 0 {
			select {
			case <-time.After(m.batchPause):
			case <-ctx.Done():
				return
			}
		}
		calls++

		summary := m.eval.Evaluate(ctx, prompt, st.Code)
		if ctx.Err() != nil {
			return
		}
		m.publish(ctx, code, name, summary)
	}
}

// publish persists the summary and fans it out to teachers. Results for
// students who left in the meantime are discarded.
func (m *Manager) publish(ctx context.Context, code, name string, summary types.Summary) {
	_, err := m.store.Update(ctx, code, func(doc *types.Session) error {
		st, ok := doc.Students[name]
		if !ok || st.DisconnectedAt != nil {
			return store.ErrNotFound
		}
		s := summary
		st.Summary = &s
		return nil
	})
	if err != nil {
		m.logger.Debug("summary discarded",
			zap.String("code", code), zap.String("student", name), zap.Error(err))
		return
	}

	m.registry.EmitToTeachers(code, types.EventStudentSummaryUpdate, types.StudentSummaryPayload{
		StudentName: name,
		Summary:     summary,
		Timestamp:   time.Now(),
	})
}

// SetBatchPause overrides the inter-batch pause. Tests use this to keep
// sweeps fast.
func (m *Manager) SetBatchPause(d time.Duration) {
	m.batchPause = d
}
