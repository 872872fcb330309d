package session

import (
	"errors"
	"fmt"
)

var (
	ErrNavigation  = errors.New("navigation failed")
	ErrPersistence = errors.New("artifact write failed")
	ErrCleanup     = errors.New("browser release failed")
	ErrAlreadyRun  = errors.New("session already run")
)

// NavigationError is a timeout or network failure reaching the target.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error        { return e.Err }
func (e *NavigationError) Is(target error) bool { return target == ErrNavigation }

// PersistenceError is a failure writing a screenshot or the event log.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// CleanupError is a failure releasing the browser. It never replaces an
// earlier error from the same run.
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("release browser: %v", e.Err)
}

func (e *CleanupError) Unwrap() error        { return e.Err }
func (e *CleanupError) Is(target error) bool { return target == ErrCleanup }
