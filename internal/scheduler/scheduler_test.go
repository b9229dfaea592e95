package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/internal/evaluator"
	"github.com/AregGevorgyan/tomatocode/internal/store"
	"github.com/AregGevorgyan/tomatocode/internal/ws"
	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// fakeEvaluator counts calls and returns a fixed summary.
type fakeEvaluator struct {
	calls     atomic.Int32
	available bool
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, prompt, code string) types.Summary {
	f.calls.Add(1)
	return types.Summary{Progress: types.ProgressHalfwayDone, Feedback: "Keep going, the structure is taking shape nicely."}
}

func (f *fakeEvaluator) IsAvailable() bool { return f.available }

// fakeEndpoint records delivered events.
type fakeEndpoint struct {
	id string

	mu     sync.Mutex
	events []string
}

func (f *fakeEndpoint) ID() string { return f.id }

func (f *fakeEndpoint) Send(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEndpoint) Close() error { return nil }

func (f *fakeEndpoint) received(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type fixture struct {
	store    *store.Store
	registry *ws.Registry
	eval     *fakeEvaluator
	manager  *Manager
	teacher  *fakeEndpoint
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	logger := zap.NewNop()
	st := store.New(nil, logger)
	registry := ws.NewRegistry(logger)
	eval := &fakeEvaluator{available: true}

	m := NewManager(st, registry, eval, evaluator.NewKeyedLimiter(), interval, logger)
	m.SetBatchPause(time.Millisecond)
	t.Cleanup(m.StopAll)

	doc := &types.Session{
		Code:     "abcdef",
		Title:    "Loops",
		Language: types.LanguagePython,
		Slides:   []types.Slide{{Prompt: "write fizzbuzz", HasCodingTask: true}},
		Active:   true,
		Students: make(map[string]*types.Student),
	}
	if err := st.Create(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	return &fixture{store: st, registry: registry, eval: eval, manager: m,
		teacher: &fakeEndpoint{id: "teacher-1"}}
}

func (f *fixture) attachTeacher(t *testing.T) {
	t.Helper()
	if err := f.registry.Attach("abcdef", f.teacher, types.RoleTeacher, "prof"); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) addStudent(t *testing.T, name, code string, disconnected bool) {
	t.Helper()
	_, err := f.store.Update(context.Background(), "abcdef", func(doc *types.Session) error {
		st := &types.Student{JoinedAt: time.Now(), Code: code}
		if disconnected {
			now := time.Now()
			st.DisconnectedAt = &now
		}
		doc.Students[name] = st
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestManager_SweepPublishesSummaries(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.attachTeacher(t)
	f.addStudent(t, "alice", "for i in range(15): print(i)", false)
	f.addStudent(t, "bob", "", false)           // empty draft, skipped
	f.addStudent(t, "carol", "x = 1", true)     // disconnected, skipped

	f.manager.Start("abcdef")

	waitUntil(t, func() bool {
		return f.teacher.received(types.EventStudentSummaryUpdate) >= 1
	}, "summary never reached the teacher")

	if got := f.eval.calls.Load(); got != 1 {
		t.Errorf("expected exactly one evaluator call (alice only), got %d", got)
	}

	doc, _ := f.store.Get("abcdef")
	if doc.Students["alice"].Summary == nil {
		t.Error("alice's summary was not persisted")
	}
	if doc.Students["bob"].Summary != nil || doc.Students["carol"].Summary != nil {
		t.Error("skipped students must not receive summaries")
	}
}

func TestManager_NoTeachersNoCalls(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.addStudent(t, "alice", "code long enough", false)

	f.manager.Start("abcdef")
	time.Sleep(120 * time.Millisecond)

	if got := f.eval.calls.Load(); got != 0 {
		t.Errorf("sweep ran with no teacher attached: %d calls", got)
	}
	if !f.manager.Running("abcdef") {
		t.Error("loop should stay armed while the session is live")
	}
}

func TestManager_EvaluatorUnavailableSkipsSweep(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.eval.available = false
	f.attachTeacher(t)
	f.addStudent(t, "alice", "code long enough", false)

	f.manager.Start("abcdef")
	time.Sleep(120 * time.Millisecond)

	if got := f.eval.calls.Load(); got != 0 {
		t.Errorf("sweep called an unavailable evaluator %d times", got)
	}
}

func TestManager_StopsWhenSessionInactive(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.attachTeacher(t)
	_, _ = f.store.Update(context.Background(), "abcdef", func(doc *types.Session) error {
		doc.Active = false
		return nil
	})

	f.manager.Start("abcdef")

	waitUntil(t, func() bool { return !f.manager.Running("abcdef") },
		"loop kept running for an inactive session")
}

func TestManager_StopHaltsEvaluation(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.attachTeacher(t)
	f.addStudent(t, "alice", "draft with enough text", false)

	f.manager.Start("abcdef")
	waitUntil(t, func() bool { return f.eval.calls.Load() >= 1 }, "no sweep ran")

	f.manager.Stop("abcdef")
	settled := f.eval.calls.Load()
	time.Sleep(120 * time.Millisecond)

	if got := f.eval.calls.Load(); got != settled {
		t.Errorf("evaluator called after Stop: %d -> %d", settled, got)
	}
	if f.manager.Running("abcdef") {
		t.Error("Running should report false after Stop")
	}
}

func TestManager_StartIsIdempotent(t *testing.T) {
	f := newFixture(t, time.Hour)

	f.manager.Start("abcdef")
	f.manager.Start("abcdef")
	if !f.manager.Running("abcdef") {
		t.Fatal("loop not running after Start")
	}

	f.manager.StopAll()
	if f.manager.Running("abcdef") {
		t.Error("loop still registered after StopAll")
	}
}

func TestManager_LimiterThrottlesRepeatSweeps(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.attachTeacher(t)
	f.addStudent(t, "alice", "draft with enough text", false)

	f.manager.Start("abcdef")
	waitUntil(t, func() bool { return f.eval.calls.Load() >= 1 }, "no sweep ran")
	time.Sleep(150 * time.Millisecond)

	// Many sweeps fit in 150 ms; the 10 s per-student interval admits
	// only the first.
	if got := f.eval.calls.Load(); got != 1 {
		t.Errorf("limiter admitted %d evaluations, want 1", got)
	}
}
