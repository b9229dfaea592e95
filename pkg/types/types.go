package types

import (
	"time"
)

// Roles of connected endpoints.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// Progress labels assigned by the evaluator.
const (
	ProgressNotStarted  = "notStarted"
	ProgressJustStarted = "justStarted"
	ProgressHalfwayDone = "halfwayDone"
	ProgressAlmostDone  = "almostDone"
	ProgressAllDone     = "allDone"
)

// Languages accepted by the code executor.
const (
	LanguageJavaScript = "javascript"
	LanguagePython     = "python"
)

// Slide is one unit of the deck. A slide may carry a coding prompt.
type Slide struct {
	Prompt        string `json:"prompt"`
	HasCodingTask bool   `json:"hasCodingTask"`
}

// Summary is the evaluator's classification of a student draft.
type Summary struct {
	Progress string `json:"progress"`
	Feedback string `json:"feedback"`
}

// Execution is the outcome of one sandboxed run.
type Execution struct {
	Result    string    `json:"result"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Student is a per-session participant record. It survives transient
// disconnects for the grace window; DisconnectedAt set means the endpoint
// is no longer attached.
type Student struct {
	JoinedAt         time.Time  `json:"joinedAt"`
	Code             string     `json:"code"`
	SocketEndpointID string     `json:"socketEndpointId"`
	LastActive       time.Time  `json:"lastActive"`
	ReconnectToken   string     `json:"reconnectToken,omitempty"`
	Summary          *Summary   `json:"summary,omitempty"`
	LastExecution    *Execution `json:"lastExecution,omitempty"`
	DisconnectedAt   *time.Time `json:"disconnectedAt,omitempty"`
	ReconnectedAt    *time.Time `json:"reconnectedAt,omitempty"`
}

// Session is the authoritative document for one room, keyed by a
// six-letter lowercase code. All mutation goes through the store's
// per-session lock.
type Session struct {
	Code              string              `json:"sessionCode"`
	Title             string              `json:"title"`
	Description       string              `json:"description"`
	Language          string              `json:"language"`
	InitialCode       string              `json:"initialCode"`
	CurrentCode       string              `json:"currentCode"`
	Slides            []Slide             `json:"slides"`
	SlidesWithCode    map[int]bool        `json:"slidesWithCode,omitempty"`
	CurrentSlide      int                 `json:"currentSlide"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	Active            bool                `json:"active"`
	Students          map[string]*Student `json:"students"`
	TeacherEndpointID string              `json:"teacherEndpointId,omitempty"`
}

// SlideAt resolves a slide index against the deck. Out-of-range indices
// and empty decks resolve to no coding task and an empty prompt.
func (s *Session) SlideAt(index int) (prompt string, hasCodingTask bool) {
	if index < 0 || index >= len(s.Slides) {
		return "", false
	}
	sl := s.Slides[index]
	return sl.Prompt, sl.HasCodingTask
}

// Clone returns a deep copy of the session document so readers can hold
// a point-in-time snapshot outside the store's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Slides = append([]Slide(nil), s.Slides...)
	if s.SlidesWithCode != nil {
		c.SlidesWithCode = make(map[int]bool, len(s.SlidesWithCode))
		for k, v := range s.SlidesWithCode {
			c.SlidesWithCode[k] = v
		}
	}
	c.Students = make(map[string]*Student, len(s.Students))
	for name, st := range s.Students {
		c.Students[name] = st.clone()
	}
	return &c
}

func (st *Student) clone() *Student {
	if st == nil {
		return nil
	}
	c := *st
	if st.Summary != nil {
		sum := *st.Summary
		c.Summary = &sum
	}
	if st.LastExecution != nil {
		ex := *st.LastExecution
		c.LastExecution = &ex
	}
	if st.DisconnectedAt != nil {
		t := *st.DisconnectedAt
		c.DisconnectedAt = &t
	}
	if st.ReconnectedAt != nil {
		t := *st.ReconnectedAt
		c.ReconnectedAt = &t
	}
	return &c
}

// Sanitized returns a copy safe to hand to peers: reconnect tokens are
// session-scoped secrets and never leave the owning endpoint.
func (s *Session) Sanitized() *Session {
	c := s.Clone()
	for _, st := range c.Students {
		st.ReconnectToken = ""
	}
	return c
}
