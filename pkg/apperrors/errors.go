package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrConfig              = errors.New("configuration error")
	ErrMismatch            = errors.New("value count mismatch")
	ErrNotImplemented      = errors.New("not yet implemented")
	ErrReadOnly            = errors.New("object is read-only")
	ErrNoTable             = errors.New("no table definition")
	ErrStrategyLocked      = errors.New("mapping strategy cannot change while sessions are open")
	ErrAssociationNotFound = errors.New("association not found")
	ErrAlreadyInitialized  = errors.New("hibernate registry already initialized")
	ErrRemote              = errors.New("remote peer error")
)

// ConfigError describes a fatal problem in a mapping definition.
type ConfigError struct {
	Op  string
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// Configf builds a ConfigError.
func Configf(op, format string, args ...any) error {
	return &ConfigError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// MismatchError is returned when a value list does not line up with the
// attribute list it is matched against.
type MismatchError struct {
	Op   string
	Want int
	Got  int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d values, got %d", e.Op, e.Want, e.Got)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// RemoteError carries every piece of diagnostic text available when a call
// to a remote peer fails.
type RemoteError struct {
	URL       string
	Fault     string
	Transport string
}

func (e *RemoteError) Error() string {
	parts := []string{"remote peer " + e.URL}
	if e.Fault != "" {
		parts = append(parts, e.Fault)
	}
	if e.Transport != "" {
		parts = append(parts, e.Transport)
	}
	return strings.Join(parts, ": ")
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}
