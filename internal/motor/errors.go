package motor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized channel errors.
var (
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrInternal     = errors.New("INTERNAL")
)

// DriverMap lists the driver error tokens for each normalized code.
type DriverMap struct {
	Range       []string
	Busy        []string
	Unavailable []string
}

// DriverErrorMappings holds the token tables per motor-driver flavour.
// Unknown tokens map to INTERNAL; unknown drivers use "generic".
var DriverErrorMappings = map[string]DriverMap{
	"canopen": {
		Range: []string{
			"VALUE_TOO_HIGH",
			"VALUE_TOO_LOW",
			"OBJECT_DOES_NOT_EXIST",
			"SUBINDEX_DOES_NOT_EXIST",
			"INVALID_PARAMETER",
		},
		Busy: []string{
			"SDO_IN_PROGRESS",
			"TOGGLE_BIT_NOT_ALTERNATED",
			"QUEUE_FULL",
		},
		Unavailable: []string{
			"SDO_TIMEOUT",
			"NODE_OFFLINE",
			"BUS_OFF",
			"NMT_NOT_OPERATIONAL",
			"DBUS_DISCONNECTED",
		},
	},
	"generic": {
		Range: []string{
			"OUT_OF_RANGE",
			"INVALID_PARAMETER",
			"INVALID_RANGE",
		},
		Busy: []string{
			"BUSY",
			"RETRY",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"TIMEOUT",
			"OFFLINE",
			"NOT_READY",
		},
	},
}

// DriverError keeps the driver's own error next to the normalized code.
type DriverError struct {
	Code     error
	Original error
	Details  interface{}
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%v (driver: %v)", e.Code, e.Original)
}

// Unwrap exposes both the normalized code and the driver error to errors.Is
// and errors.As.
func (e *DriverError) Unwrap() []error {
	if e.Original == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Original}
}

// NormalizeDriverError maps a driver error with the generic table.
func NormalizeDriverError(err error, payload interface{}) error {
	return NormalizeDriverErrorWith(err, payload, "generic")
}

// NormalizeDriverErrorWith maps a driver error using the named table.
// Errors that already carry a normalized code are returned unchanged.
func NormalizeDriverErrorWith(err error, payload interface{}, driver string) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}

	code := ErrUnavailable
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		code = mapDriverErrorToCode(err.Error(), driver)
	}

	return &DriverError{
		Code:     code,
		Original: err,
		Details:  payload,
	}
}

func mapDriverErrorToCode(msg, driver string) error {
	table, ok := DriverErrorMappings[driver]
	if !ok {
		table = DriverErrorMappings["generic"]
	}

	upper := strings.ToUpper(msg)

	for _, token := range table.Range {
		if strings.Contains(upper, token) {
			return ErrInvalidRange
		}
	}
	for _, token := range table.Busy {
		if strings.Contains(upper, token) {
			return ErrBusy
		}
	}
	for _, token := range table.Unavailable {
		if strings.Contains(upper, token) {
			return ErrUnavailable
		}
	}
	// remote ends report context expiry as text
	if strings.Contains(upper, "DEADLINE EXCEEDED") || strings.Contains(upper, "CONTEXT CANCELED") {
		return ErrUnavailable
	}

	return ErrInternal
}

// Code returns the normalized code name of err ("" for nil).
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRange):
		return ErrInvalidRange.Error()
	case errors.Is(err, ErrBusy):
		return ErrBusy.Error()
	case errors.Is(err, ErrUnavailable):
		return ErrUnavailable.Error()
	default:
		return ErrInternal.Error()
	}
}
