package types

import (
	"encoding/json"
	"time"
)

// Inbound event names on the realtime protocol.
const (
	EventJoinSession     = "join-session"
	EventTeacherJoin     = "teacher-join"
	EventReconnect       = "reconnect-session"
	EventCodeUpdate      = "code-update"
	EventUpdateSlide     = "update-slide"
	EventUpdateSlideData = "update-slide-data"
	EventExecuteCode     = "execute-code"
	EventDisconnect      = "disconnect"
)

// Outbound event names.
const (
	EventSessionData            = "session-data"
	EventSlideChange            = "slide-change"
	EventUserJoined             = "user-joined"
	EventUserLeft               = "user-left"
	EventStudentCodeUpdate      = "student-code-update"
	EventStudentSummaryUpdate   = "student-summary-update"
	EventExecutionResult        = "execution-result"
	EventStudentExecutionResult = "student-execution-result"
	EventCodeRestore            = "code-restore"
	EventSessionEnded           = "session-ended"
	EventError                  = "error"
)

// Envelope frames every message on the wire in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads. Each dispatch arm decodes Envelope.Data into exactly
// one of these.

type JoinSessionPayload struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type TeacherJoinPayload struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type ReconnectPayload struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type CodeUpdatePayload struct {
	Code string `json:"code"`
}

type UpdateSlidePayload struct {
	SlideIndex *int `json:"slideIndex"`
}

type UpdateSlideDataPayload struct {
	Slides         []Slide `json:"slides"`
	SlidesWithCode []int   `json:"slidesWithCode"`
}

type ExecuteCodePayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Outbound payloads.

type SessionDataPayload struct {
	*Session
	ReconnectToken string `json:"reconnectToken,omitempty"`
}

type SlideChangePayload struct {
	Index         int       `json:"index"`
	HasCodeEditor bool      `json:"hasCodeEditor"`
	Prompt        string    `json:"prompt"`
	Timestamp     time.Time `json:"timestamp"`
}

type PresencePayload struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

type StudentCodePayload struct {
	StudentName string    `json:"studentName"`
	Code        string    `json:"code"`
	Timestamp   time.Time `json:"timestamp"`
}

type StudentSummaryPayload struct {
	StudentName string    `json:"studentName"`
	Summary     Summary   `json:"summary"`
	Timestamp   time.Time `json:"timestamp"`
}

type ExecutionResultPayload struct {
	Result    string    `json:"result"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type StudentExecutionPayload struct {
	StudentName string    `json:"studentName"`
	Result      string    `json:"result"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

type CodeRestorePayload struct {
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
