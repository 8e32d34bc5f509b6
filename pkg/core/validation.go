package core

import (
	"fmt"
	"time"
)

const maxNameLength = 255

// ValidateName validates a graph resource name (topic, service or namespace).
//
// Accepted forms are "/abs/name", "rel/name" and "~private". Segments may
// contain letters, digits and underscores and must not start with a digit.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName.Wrap(fmt.Errorf("name cannot be empty"))
	}
	if len(name) > maxNameLength {
		return ErrInvalidName.Wrap(fmt.Errorf("name too long (max %d characters)", maxNameLength))
	}

	segStart := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '~':
			if i != 0 {
				return ErrInvalidName.Wrap(fmt.Errorf("%q: '~' is only allowed as first character", name))
			}
			segStart = true
		case c == '/':
			if i > 0 && name[i-1] == '/' {
				return ErrInvalidName.Wrap(fmt.Errorf("%q: empty segment", name))
			}
			segStart = true
		case c >= '0' && c <= '9':
			if segStart {
				return ErrInvalidName.Wrap(fmt.Errorf("%q: segment cannot start with a digit", name))
			}
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			segStart = false
		default:
			return ErrInvalidName.Wrap(fmt.Errorf("%q: invalid character %q", name, c))
		}
	}
	return nil
}

// ValidateTimeout validates a timeout duration
func ValidateTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return &Error{Code: "INVALID_TIMEOUT", Message: "timeout must be positive"}
	}
	if timeout > 5*time.Minute {
		return &Error{Code: "INVALID_TIMEOUT", Message: "timeout too large (max 5 minutes)"}
	}
	return nil
}

// FailFast panics with an error (fail-fast principle)
func FailFast(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w", err))
	}
}

// FailFastIf panics if condition is true
func FailFastIf(condition bool, message string) {
	if condition {
		panic(fmt.Errorf("fail-fast: %s", message))
	}
}
