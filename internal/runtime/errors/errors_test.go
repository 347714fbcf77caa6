package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrClientNotConnected", ErrClientNotConnected, "busflow: client is not connected"},
		{"ErrInvalidMessage", ErrInvalidMessage, "busflow: invalid message"},
		{"ErrInvalidMessageData", ErrInvalidMessageData, "busflow: invalid message data"},
		{"ErrTimeout", ErrTimeout, "busflow: timed out"},
		{"ErrCallbackSubscription", ErrCallbackSubscription, "busflow: subscription delivers to a callback, not to queues"},
		{"ErrQueueExists", ErrQueueExists, "busflow: delivery queue already exists"},
		{"ErrSubjectRequired", ErrSubjectRequired, "busflow: subject is required"},
		{"ErrCallbackRequired", ErrCallbackRequired, "busflow: callback function is required"},
		{"ErrConfigRequired", ErrConfigRequired, "busflow: config is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestInvalidDataErrorMatchesBothSentinels(t *testing.T) {
	err := &InvalidDataError{Reason: "message data is a bare scalar"}

	if !errors.Is(err, ErrInvalidMessageData) {
		t.Error("errors.Is should match ErrInvalidMessageData")
	}
	if !errors.Is(err, ErrInvalidMessage) {
		t.Error("errors.Is should match ErrInvalidMessage")
	}

	want := "busflow: invalid message data: message data is a bare scalar"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestInvalidMessageErrorMatchesOnlyInvalidMessage(t *testing.T) {
	err := &InvalidMessageError{Reason: "payload is not valid JSON"}

	if !errors.Is(err, ErrInvalidMessage) {
		t.Error("errors.Is should match ErrInvalidMessage")
	}
	if errors.Is(err, ErrInvalidMessageData) {
		t.Error("errors.Is should not match ErrInvalidMessageData")
	}
}

func TestWrappedSentinelStillMatches(t *testing.T) {
	err := fmt.Errorf("request to %q failed: %w", "orders.create", ErrTimeout)

	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is should match through fmt.Errorf wrapping")
	}
}
