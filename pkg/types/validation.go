package types

import (
	"regexp"
)

var (
	sessionCodeRegex = regexp.MustCompile(`^[a-z]{6}$`)
	studentNameRegex = regexp.MustCompile(`^[^\x00-\x1f]{1,100}$`)
)

// IsValidSessionCode reports whether code is six lowercase ASCII letters.
func IsValidSessionCode(code string) bool {
	return sessionCodeRegex.MatchString(code)
}

// IsValidName reports whether a participant name is acceptable:
// 1-100 characters, no control characters.
func IsValidName(name string) bool {
	return studentNameRegex.MatchString(name)
}

// IsValidProgress reports whether label is one of the five progress labels.
func IsValidProgress(label string) bool {
	switch label {
	case ProgressNotStarted, ProgressJustStarted, ProgressHalfwayDone,
		ProgressAlmostDone, ProgressAllDone:
		return true
	default:
		return false
	}
}

// IsValidLanguage reports whether the executor supports lang.
func IsValidLanguage(lang string) bool {
	return lang == LanguageJavaScript || lang == LanguagePython
}

// ValidSlideIndex reports whether index addresses a slide of the deck.
// Index 0 is always legal so empty decks still have a current slide.
func ValidSlideIndex(index, deckLen int) bool {
	if index == 0 {
		return true
	}
	return index > 0 && index < deckLen
}
