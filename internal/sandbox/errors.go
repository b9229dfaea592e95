package sandbox

import "errors"

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrBadSourcePath       = errors.New("source path rejected")
	ErrCommandRejected     = errors.New("interpreter command rejected")
	ErrTimeout             = errors.New("execution timed out")
)
