package types

import (
	"strings"
	"testing"
	"time"
)

func TestIsValidSessionCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"abcdef", true},
		{"zzzzzz", true},
		{"abcde", false},
		{"abcdefg", false},
		{"ABCDEF", false},
		{"abc123", false},
		{"abc-ef", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidSessionCode(tc.code); got != tc.want {
			t.Errorf("IsValidSessionCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsValidName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Alice", true},
		{"名前", true},
		{"a", true},
		{strings.Repeat("x", 100), true},
		{strings.Repeat("x", 101), false},
		{"", false},
		{"bad\nname", false},
		{"bad\x00name", false},
	}
	for _, tc := range cases {
		if got := IsValidName(tc.name); got != tc.want {
			t.Errorf("IsValidName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsValidProgress(t *testing.T) {
	for _, label := range []string{
		ProgressNotStarted, ProgressJustStarted, ProgressHalfwayDone,
		ProgressAlmostDone, ProgressAllDone,
	} {
		if !IsValidProgress(label) {
			t.Errorf("expected %q to be a valid progress label", label)
		}
	}
	for _, label := range []string{"", "done", "NotStarted", "halfway"} {
		if IsValidProgress(label) {
			t.Errorf("expected %q to be rejected", label)
		}
	}
}

func TestIsValidLanguage(t *testing.T) {
	if !IsValidLanguage(LanguagePython) || !IsValidLanguage(LanguageJavaScript) {
		t.Error("python and javascript should be accepted")
	}
	for _, lang := range []string{"", "go", "Python", "js"} {
		if IsValidLanguage(lang) {
			t.Errorf("expected %q to be rejected", lang)
		}
	}
}

func TestValidSlideIndex(t *testing.T) {
	cases := []struct {
		index, deckLen int
		want           bool
	}{
		{0, 0, true}, // empty decks still have a current slide
		{0, 3, true},
		{2, 3, true},
		{3, 3, false},
		{-1, 3, false},
		{1, 0, false},
	}
	for _, tc := range cases {
		if got := ValidSlideIndex(tc.index, tc.deckLen); got != tc.want {
			t.Errorf("ValidSlideIndex(%d, %d) = %v, want %v", tc.index, tc.deckLen, got, tc.want)
		}
	}
}

func TestSessionSlideAt(t *testing.T) {
	s := &Session{Slides: []Slide{
		{Prompt: "intro", HasCodingTask: false},
		{Prompt: "write fizzbuzz", HasCodingTask: true},
	}}

	prompt, hasTask := s.SlideAt(1)
	if prompt != "write fizzbuzz" || !hasTask {
		t.Errorf("SlideAt(1) = (%q, %v), want coding slide", prompt, hasTask)
	}

	prompt, hasTask = s.SlideAt(5)
	if prompt != "" || hasTask {
		t.Errorf("out-of-range SlideAt should resolve to no coding task, got (%q, %v)", prompt, hasTask)
	}

	empty := &Session{}
	if prompt, hasTask = empty.SlideAt(0); prompt != "" || hasTask {
		t.Error("empty deck should resolve to no coding task")
	}
}

func TestSessionClone(t *testing.T) {
	now := time.Now()
	disc := now.Add(-time.Minute)
	orig := &Session{
		Code:           "abcdef",
		Slides:         []Slide{{Prompt: "p", HasCodingTask: true}},
		SlidesWithCode: map[int]bool{0: true},
		Students: map[string]*Student{
			"alice": {
				JoinedAt:       now,
				Code:           "print(1)",
				Summary:        &Summary{Progress: ProgressJustStarted, Feedback: "keep going"},
				LastExecution:  &Execution{Result: "1"},
				DisconnectedAt: &disc,
			},
		},
	}

	clone := orig.Clone()

	clone.Slides[0].Prompt = "changed"
	clone.SlidesWithCode[1] = true
	clone.Students["alice"].Code = "changed"
	clone.Students["alice"].Summary.Feedback = "changed"
	*clone.Students["alice"].DisconnectedAt = now.Add(time.Hour)

	if orig.Slides[0].Prompt != "p" {
		t.Error("clone shares the slides slice")
	}
	if len(orig.SlidesWithCode) != 1 {
		t.Error("clone shares the slidesWithCode map")
	}
	if orig.Students["alice"].Code != "print(1)" {
		t.Error("clone shares student records")
	}
	if orig.Students["alice"].Summary.Feedback != "keep going" {
		t.Error("clone shares the summary pointer")
	}
	if !orig.Students["alice"].DisconnectedAt.Equal(disc) {
		t.Error("clone shares the disconnectedAt pointer")
	}
}

func TestSessionSanitizedStripsTokens(t *testing.T) {
	orig := &Session{
		Code: "abcdef",
		Students: map[string]*Student{
			"alice": {ReconnectToken: "secret-a"},
			"bob":   {ReconnectToken: "secret-b"},
		},
	}

	clean := orig.Sanitized()
	for name, st := range clean.Students {
		if st.ReconnectToken != "" {
			t.Errorf("sanitized session leaks reconnect token for %s", name)
		}
	}
	if orig.Students["alice"].ReconnectToken != "secret-a" {
		t.Error("Sanitized mutated the original document")
	}
}
