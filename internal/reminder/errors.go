package reminder

import (
	"errors"
)

var (
	ErrUnparsableTime   = errors.New("unparsable time")
	ErrInvalidTimezone  = errors.New("invalid timezone")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("reminder not found")
	ErrDispatch         = errors.New("dispatch failed")
)

// Kind classifies a failed operation for callers that need a stable tag.
type Kind int

const (
	KindNone Kind = iota
	KindUnparsableTime
	KindInvalidTimezone
	KindInvalidInput
	KindStoreUnavailable
	KindNotFound
	KindDispatchFailure
	KindInternal
)

var kindNames = [...]string{
	KindNone:             "",
	KindUnparsableTime:   "unparsable_time",
	KindInvalidTimezone:  "invalid_timezone",
	KindInvalidInput:     "invalid_input",
	KindStoreUnavailable: "store_unavailable",
	KindNotFound:         "not_found",
	KindDispatchFailure:  "dispatch_failure",
	KindInternal:         "internal",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	*k = KindInternal
	return nil
}

// KindOf maps an error chain onto a Kind. nil maps to KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnparsableTime):
		return KindUnparsableTime
	case errors.Is(err, ErrInvalidTimezone):
		return KindInvalidTimezone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDispatch):
		return KindDispatchFailure
	default:
		return KindInternal
	}
}
