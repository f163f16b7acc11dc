package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/Veraticus/taxflow/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{name: "first try succeeds", errs: []error{nil}, wantCalls: 1},
		{name: "transient then success", errs: []error{ErrTransient, nil}, wantCalls: 2},
		{name: "exhausted", errs: []error{ErrTransient, ErrTransient, ErrTransient}, wantCalls: 3, wantErr: ErrMaxRetries},
		{name: "permanent stops at once", errs: []error{Permanent(ErrConfiguration)}, wantCalls: 1, wantErr: ErrConfiguration},
		{name: "rate limit is retried", errs: []error{ErrRateLimit, nil}, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), func() error {
				e := tt.errs[calls]
				calls++
				return e
			}, fastRetry)

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWithRetry_ExhaustionKeepsCause(t *testing.T) {
	err := WithRetry(context.Background(), func() error { return ErrTransient }, fastRetry)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return ErrTransient
	}, service.RetryOptions{MaxAttempts: 5, InitialDelay: time.Hour})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: ErrTransient, want: true},
		{err: fmt.Errorf("wrapped: %w", ErrRateLimit), want: true},
		{err: ErrConcurrencyConflict, want: true},
		{err: context.DeadlineExceeded, want: true},
		{err: NewIntegrityError("bad row %d", 3), want: false},
		{err: fmt.Errorf("%w: %w", ErrTransient, ErrConfiguration), want: false},
		{err: &RetryableError{Err: errors.New("x"), Retryable: true}, want: true},
		{err: Permanent(errors.New("x")), want: false},
		{err: errors.New("unknown"), want: false},
		{err: fmt.Errorf("%w after 3 attempts: %w", ErrMaxRetries, ErrTransient), want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestUserError(t *testing.T) {
	err := NewUserError("Invalid configuration", ErrConfiguration)
	assert.Equal(t, "Invalid configuration: configuration failure", err.Error())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSetupLoggerTo(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	require.NoError(t, SetupLoggerTo(&buf, slog.LevelWarn, "json"))
	slog.Info("hidden")
	slog.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	assert.ErrorIs(t, SetupLoggerTo(&buf, slog.LevelInfo, "xml"), ErrConfiguration)

	level, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
	_, err = ParseLevel("loud")
	assert.ErrorIs(t, err, ErrConfiguration)
}
