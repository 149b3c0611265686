package cache

// Error is a serialization or storage failure of the cache.
type Error struct {
	Op  string
	Err error
}

// ErrCache matches any *Error through errors.Is.
var ErrCache = &Error{}

func (e *Error) Error() string {
	if e.Err == nil {
		return "cache error: " + e.Op
	}
	return "cache error: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrCache
}
