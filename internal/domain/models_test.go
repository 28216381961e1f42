package domain

import "testing"

func TestSessionStateIsTerminal(t *testing.T) {
	testCases := []struct {
		state SessionState
		want  bool
	}{
		{SessionStateCancelled, true},
		{SessionStateReady, false},
		{SessionStateWaitingForPayment, false},
		{SessionStateWaitingForSize, false},
		{SessionStateWaitingForName, false},
		{SessionStateWaitingForAddress, false},
		{SessionStateShippingConfirmation, false},
		{SessionStateAllowContactRequested, false},
		{SessionStateCompleted, true},
		{SessionStateRefunded, true},
		{SessionStateOutOfStock, true},
		{SessionStateRestrictionsNotMet, true},
		{SessionStateIdle, false},
		{SessionStateIdleAndRefundable, false},
	}

	for _, tc := range testCases {
		if got := tc.state.IsTerminal(); got != tc.want {
			t.Errorf("state %d: IsTerminal() = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestSessionStateAwaitingShippingInfo(t *testing.T) {
	for state := SessionStateCancelled; state <= SessionStateIdleAndRefundable; state++ {
		want := state >= SessionStateWaitingForSize && state <= SessionStateShippingConfirmation
		if got := state.AwaitingShippingInfo(); got != want {
			t.Errorf("state %d: AwaitingShippingInfo() = %v, want %v", state, got, want)
		}
	}
}

func TestSkuRemaining(t *testing.T) {
	sku := Sku{Quantity: 5, NumberOrdered: 3}
	if got := sku.Remaining(); got != 2 {
		t.Errorf("Remaining() = %d, want 2", got)
	}
}
