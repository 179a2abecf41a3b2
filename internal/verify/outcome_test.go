package verify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/club-activator/internal/model"
)

func TestOutcomeStatus(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    model.ActivationStatus
		ok      bool
	}{
		{Activated, model.ActivationDone, true},
		{AlreadyActivated, model.ActivationDone, true},
		{TokenExpiredEmailResent, model.ActivationRetry, true},
		{Aborted, "", false},
	}

	for _, tt := range tests {
		got, ok := tt.outcome.Status()
		assert.Equal(t, tt.want, got, tt.outcome)
		assert.Equal(t, tt.ok, ok, tt.outcome)
	}
}

func TestIsFatal(t *testing.T) {
	err := fmt.Errorf("task 7: %w", &FatalError{Stage: "fetch", Link: "l", Err: ErrUnrecognizedPage})
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrUnrecognizedPage)
	assert.False(t, IsFatal(errors.New("plain")))
}
