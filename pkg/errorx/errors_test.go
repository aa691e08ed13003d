package errorx_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/advogo/billingcore/pkg/errorx"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"conflict", errorx.NewConflict("subscription", "sub-1"), errorx.IsConflict, true},
		{"conflict wrapped", fmt.Errorf("create: %w", errorx.NewConflict("session", "")), errorx.IsConflict, true},
		{"not found", errorx.NewNotFound("plan", "Pro"), errorx.IsNotFound, true},
		{"invalid transition", errorx.NewInvalidTransition("subscription", "cancelled", "active"), errorx.IsInvalidTransition, true},
		{"upstream", errorx.NewUpstream("paddle.checkout", errors.New("timeout")), errorx.IsUpstream, true},
		{"signature", errorx.NewSignature(errors.New("bad hmac")), errorx.IsSignature, true},
		{"plain error is nothing", errors.New("boom"), errorx.IsConflict, false},
		{"class mismatch", errorx.NewNotFound("plan", ""), errorx.IsConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := errorx.NewUpstream("store.insert", cause)
	assert.ErrorIs(t, err, cause)

	sig := errorx.NewSignature(cause)
	assert.ErrorIs(t, sig, cause)
}

func TestMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "subscription already exists for subscriber 42",
		errorx.NewConflict("subscription", "subscriber 42").Error())
	assert.Equal(t, "session already exists",
		errorx.NewConflict("session", "").Error())
	assert.Equal(t, "plan not found: Pro",
		errorx.NewNotFound("plan", "Pro").Error())
	assert.Equal(t, "invalid subscription transition from 'cancelled' to 'active'",
		errorx.NewInvalidTransition("subscription", "cancelled", "active").Error())
}
