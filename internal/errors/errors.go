// Package errors defines the failure taxonomy of the module registry.
//
// Every kind has a sentinel value for errors.Is checks. Kinds that carry data
// (list corruption reason, missing selector, revert payload) also have a
// typed error that unwraps to its sentinel so callers can use errors.As.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/R3E-Network/modular_accounts/internal/types"
)

var (
	// ErrInvalidModule means the caller lacks the module status an action requires.
	ErrInvalidModule = stderrors.New("invalid module")
	// ErrLinkedList means a sentinel list link check failed.
	ErrLinkedList = stderrors.New("linked list error")
	// ErrCannotRemoveLastValidator guards accounts that must keep one validator.
	ErrCannotRemoveLastValidator = stderrors.New("cannot remove last validator")
	// ErrInitializer means a registry was initialized twice.
	ErrInitializer = stderrors.New("registry already initialized")
	// ErrValidatorStorageHelper reports low-level storage layout failures.
	ErrValidatorStorageHelper = stderrors.New("validator storage helper error")
	// ErrNoFallbackHandler means no handler is registered for a selector.
	ErrNoFallbackHandler = stderrors.New("no fallback handler")
	// ErrSelectorInUse means a fallback handler is already registered for the selector.
	ErrSelectorInUse = stderrors.New("function selector already used")
	// ErrInvalidCallMode means a fallback record carries an unknown relay mode.
	ErrInvalidCallMode = stderrors.New("invalid call mode")
	// ErrUnsupportedModuleType means the module type id is not handled.
	ErrUnsupportedModuleType = stderrors.New("unsupported module type")
	// ErrUnauthorized means the caller may not mutate the account's registry.
	ErrUnauthorized = stderrors.New("unauthorized")
	// ErrWriteProtection means a state write was attempted in a read-only frame.
	ErrWriteProtection = stderrors.New("write protection")
	// ErrReverted is the sentinel behind RevertError.
	ErrReverted = stderrors.New("execution reverted")
	// ErrDecode means a packed argument could not be decoded.
	ErrDecode = stderrors.New("malformed packed argument")
)

// LinkedListReason names the link check that failed.
type LinkedListReason string

const (
	ReasonInvalidEntry   LinkedListReason = "invalid entry"
	ReasonAlreadyInList  LinkedListReason = "entry already in list"
	ReasonNotLinked      LinkedListReason = "predecessor does not point to entry"
	ReasonInvalidPage    LinkedListReason = "invalid page size"
	ReasonNotInitialized LinkedListReason = "list not initialized"
)

// LinkedListError describes a failed sentinel list operation.
type LinkedListError struct {
	Reason LinkedListReason
	Entry  types.Address
}

func (e *LinkedListError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrLinkedList, e.Reason, types.HexAddress(e.Entry))
}

func (e *LinkedListError) Unwrap() error { return ErrLinkedList }

// NewLinkedListError builds a LinkedListError.
func NewLinkedListError(reason LinkedListReason, entry types.Address) error {
	return &LinkedListError{Reason: reason, Entry: entry}
}

// NoFallbackHandlerError carries the selector that matched no handler.
type NoFallbackHandlerError struct {
	Selector types.Selector
}

func (e *NoFallbackHandlerError) Error() string {
	return fmt.Sprintf("%s for selector %s", ErrNoFallbackHandler, e.Selector)
}

func (e *NoFallbackHandlerError) Unwrap() error { return ErrNoFallbackHandler }

// NewNoFallbackHandlerError builds a NoFallbackHandlerError.
func NewNoFallbackHandlerError(sel types.Selector) error {
	return &NoFallbackHandlerError{Selector: sel}
}

// RevertError carries the raw revert payload of a failed call. It is passed
// through relays untouched.
type RevertError struct {
	Data []byte
}

func (e *RevertError) Error() string {
	if len(e.Data) == 0 {
		return ErrReverted.Error()
	}
	return fmt.Sprintf("%s: 0x%x", ErrReverted, e.Data)
}

func (e *RevertError) Unwrap() error { return ErrReverted }

// NewRevertError copies data into a RevertError.
func NewRevertError(data []byte) error {
	return &RevertError{Data: append([]byte(nil), data...)}
}

// StorageError wraps a storage failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrValidatorStorageHelper, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrValidatorStorageHelper, e.Op, e.Err)
}

// Is matches ErrValidatorStorageHelper; Unwrap exposes the cause.
func (e *StorageError) Is(target error) bool { return target == ErrValidatorStorageHelper }

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err.
func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// DecodeError wraps a wire decoding failure.
func DecodeError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDecode, what, err)
}

// RevertData extracts the payload of a RevertError anywhere in err's chain.
func RevertData(err error) ([]byte, bool) {
	var rev *RevertError
	if stderrors.As(err, &rev) {
		return rev.Data, true
	}
	return nil, false
}

// IsLinkedList reports whether err is a sentinel list failure.
func IsLinkedList(err error) bool { return stderrors.Is(err, ErrLinkedList) }

// IsNoFallbackHandler reports whether err is a dispatch lookup miss.
func IsNoFallbackHandler(err error) bool { return stderrors.Is(err, ErrNoFallbackHandler) }

// IsInvalidModule reports whether err is an InvalidModule failure.
func IsInvalidModule(err error) bool { return stderrors.Is(err, ErrInvalidModule) }

// IsReverted reports whether err carries a revert payload.
func IsReverted(err error) bool { return stderrors.Is(err, ErrReverted) }

// Is, As and New re-export the standard helpers so importers of this package
// do not need a second errors import.
var (
	Is  = stderrors.Is
	As  = stderrors.As
	New = stderrors.New
)
