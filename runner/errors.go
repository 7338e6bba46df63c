package runner

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindTool is a non-zero exit with no more specific signature.
	KindTool Kind = iota
	KindSpawn
	KindRateLimited
	KindAuthRequired
	KindOutputMissing
	KindCancelled
)

type RunError struct {
	Kind    Kind
	Message string
	// HadAuth records whether credentials were passed to the tool, so an
	// auth failure can say "refresh cookies" vs "no cookies configured".
	HadAuth bool
	Err     error
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// UserMessage is what gets surfaced on the client's error event.
func (e *RunError) UserMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return "The site is rate limiting downloads (HTTP 429). Wait a while and retry."
	case KindAuthRequired:
		if e.HadAuth {
			return "Access denied (HTTP 403) even with cookies. Refresh your cookies file and retry."
		}
		return "Access denied (HTTP 403). This media needs credentials; configure a cookies file."
	case KindSpawn:
		return "The download tool could not be started. Check that it is installed and on PATH."
	case KindOutputMissing:
		return "The tool reported success but no output file was found."
	case KindCancelled:
		return "Download cancelled."
	}
	return e.Message
}

func IsCancelled(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind == KindCancelled
	}
	return false
}

func ErrKind(err error) Kind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTool
}
