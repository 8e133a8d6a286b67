package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{"NotFound wraps ErrNotFound", NotFound("user", 7), ErrNotFound, true},
		{"ValidationFailed wraps ErrValidation", ValidationFailed("units", "units must be imperial or metric"), ErrValidation, true},
		{"Conflict wraps ErrConflict", Conflict("sync already running"), ErrConflict, true},
		{"Forbidden wraps ErrForbidden", Forbidden("forbidden"), ErrForbidden, true},
		{"Upstream wraps ErrUpstream", Upstream("strava unavailable", cause), ErrUpstream, true},
		{"Upstream keeps its cause", Upstream("strava unavailable", cause), cause, true},
		{"NotFound is not a validation error", NotFound("job", "abc"), ErrValidation, false},
		{"wrapped AppError still matches", fmt.Errorf("handler: %w", NotFound("user", 1)), ErrNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.wantMatch {
				t.Errorf("errors.Is() = %v, want %v", got, tt.wantMatch)
			}
		})
	}
}

func TestMessages(t *testing.T) {
	if got := NotFound("user", 7).Error(); got != "user not found with id 7" {
		t.Errorf("NotFound message = %q", got)
	}

	err := ValidationFailed("start", "start must be YYYY-MM-DD")
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("expected *AppError")
	}
	if appErr.Field != "start" {
		t.Errorf("Field = %q, want start", appErr.Field)
	}

	if got := Upstream("strava unavailable", errors.New("secret detail")).Error(); got != "strava unavailable" {
		t.Errorf("Upstream message leaks cause: %q", got)
	}
}
