package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"relative", "image_raw", false},
		{"nested relative", "camera/image_raw", false},
		{"absolute", "/camera1/image", false},
		{"private", "~param", false},
		{"root", "/", false},
		{"empty", "", true},
		{"too long", "/" + strings.Repeat("a", 255), true},
		{"digit start", "1camera", true},
		{"digit after slash", "camera/1", true},
		{"digit inside", "camera1", false},
		{"double slash", "a//b", true},
		{"tilde inside", "a~b", true},
		{"space", "a b", true},
		{"dot", "a.b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateName(%q) error should match ErrInvalidName, got %v", tt.input, err)
			}
		})
	}
}

func TestValidateTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		wantErr bool
	}{
		{"valid timeout", 5 * time.Second, false},
		{"zero timeout", 0, true},
		{"negative timeout", -1 * time.Second, true},
		{"too large timeout", 10 * time.Minute, true},
		{"max valid timeout", 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimeout(tt.timeout)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTimeout() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestError_IsByCode(t *testing.T) {
	cause := errors.New("boom")
	wrapped := ErrSpinnerStartFailed.Wrap(cause)

	if !errors.Is(wrapped, ErrSpinnerStartFailed) {
		t.Error("wrapped error should match its sentinel")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should expose its cause")
	}
	if errors.Is(wrapped, ErrAlreadyInitialized) {
		t.Error("wrapped error should not match a different code")
	}
	if !strings.Contains(wrapped.Error(), "boom") {
		t.Errorf("Error() = %q, want cause in message", wrapped.Error())
	}
}

func TestFailFast(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("FailFast() should panic")
		}
	}()

	FailFast(&Error{Code: "TEST", Message: "test error"})
}

func TestFailFastIf(t *testing.T) {
	FailFastIf(false, "should not panic")

	defer func() {
		if r := recover(); r == nil {
			t.Error("FailFastIf(true) should panic")
		}
	}()
	FailFastIf(true, "boom")
}
