package wire

// Status represents a response or report status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusInvalidMessage indicates a malformed or unexpected message.
	StatusInvalidMessage Status = 1

	// StatusUnknownSubscription indicates the subscription id is not active.
	StatusUnknownSubscription Status = 2

	// StatusUnknownResource indicates no object matches the address.
	StatusUnknownResource Status = 3

	// StatusInvalidPath indicates the property path does not resolve.
	StatusInvalidPath Status = 4

	// StatusSchemaMismatch indicates no common schema version.
	StatusSchemaMismatch Status = 5

	// StatusResourceExhausted indicates a pool or table is full.
	StatusResourceExhausted Status = 6

	// StatusBusy indicates the peer is busy; try again later.
	StatusBusy Status = 7

	// StatusReadOnly indicates an attempt to update a read-only object.
	StatusReadOnly Status = 8

	// StatusCanceled indicates the subscription or transfer was canceled.
	StatusCanceled Status = 9

	// StatusTimeout indicates the operation timed out.
	StatusTimeout Status = 10

	// StatusUnsupported indicates the operation is not supported.
	StatusUnsupported Status = 11

	// StatusConstraintError indicates a value violates a constraint.
	StatusConstraintError Status = 12

	// StatusInternalError indicates a local failure on the peer.
	StatusInternalError Status = 13
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidMessage:
		return "INVALID_MESSAGE"
	case StatusUnknownSubscription:
		return "UNKNOWN_SUBSCRIPTION"
	case StatusUnknownResource:
		return "UNKNOWN_RESOURCE"
	case StatusInvalidPath:
		return "INVALID_PATH"
	case StatusSchemaMismatch:
		return "SCHEMA_MISMATCH"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case StatusBusy:
		return "BUSY"
	case StatusReadOnly:
		return "READ_ONLY"
	case StatusCanceled:
		return "CANCELED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusConstraintError:
		return "CONSTRAINT_ERROR"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// StatusError carries a wire status as a Go error.
type StatusError struct {
	Status  Status
	Message string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Status.String() + ": " + e.Message
	}
	return e.Status.String()
}
