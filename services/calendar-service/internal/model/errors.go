package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed set of failures the engine reports. Callers switch on KindOf(err).
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidRange
	KindSchedulingConflict
	KindNotFound
	KindConcurrencyConflict
	KindTransientStore
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRange:
		return "invalid_range"
	case KindSchedulingConflict:
		return "scheduling_conflict"
	case KindNotFound:
		return "not_found"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindTransientStore:
		return "transient_store_failure"
	default:
		return "unknown"
	}
}

// Retriable is true only for transient store failures.
func (k ErrorKind) Retriable() bool {
	return k == KindTransientStore
}

type Error struct {
	Kind    ErrorKind
	Message string
	// Conflicts lists the stored intervals a rejected write collided with.
	Conflicts []Interval
	// MissingIDs names the owners or intervals that do not exist.
	MissingIDs []string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err, or KindUnknown for nil and foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ConflictsOf returns the colliding intervals of a scheduling conflict.
func ConflictsOf(err error) []Interval {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindSchedulingConflict {
		return e.Conflicts
	}
	return nil
}

func InvalidRange(format string, args ...any) error {
	return &Error{Kind: KindInvalidRange, Message: fmt.Sprintf(format, args...)}
}

func SchedulingConflict(conflicts []Interval) error {
	return &Error{
		Kind:      KindSchedulingConflict,
		Message:   fmt.Sprintf("time block overlaps %d existing block(s)", len(conflicts)),
		Conflicts: conflicts,
	}
}

func NotFound(what string, ids ...string) error {
	msg := what + " not found"
	if len(ids) > 0 {
		msg = fmt.Sprintf("%s not found: %s", what, strings.Join(ids, ", "))
	}
	return &Error{Kind: KindNotFound, Message: msg, MissingIDs: ids}
}

func ConcurrencyConflict(id string, expected, actual int64) error {
	msg := fmt.Sprintf("interval %s was modified concurrently", id)
	if actual > 0 {
		msg = fmt.Sprintf("interval %s is at version %d, not %d", id, actual, expected)
	}
	return &Error{Kind: KindConcurrencyConflict, Message: msg}
}

// Transient wraps an I/O level failure so callers can retry it. Nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: KindTransientStore, Message: op, Err: err}
}
