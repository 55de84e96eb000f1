package session

import "testing"

func TestState_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateActive, StatePending, true},
		{StateActive, StateCompleted, true},
		{StateActive, StateArchived, false},
		{StatePending, StateCompleted, true},
		{StatePending, StateActive, false},
		{StateCompleted, StateArchived, true},
		{StateCompleted, StatePending, false},
		{StateArchived, StateCompleted, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	if StateActive.Terminal() || StatePending.Terminal() {
		t.Error("active/pending must not be terminal")
	}
	if !StateCompleted.Terminal() || !StateArchived.Terminal() {
		t.Error("completed/archived must be terminal")
	}
}

func TestMetadata_Transition_RejectsIllegalMove(t *testing.T) {
	m := &Metadata{State: StateActive}
	if err := m.Transition(StateArchived); err == nil {
		t.Error("expected active -> archived to be rejected")
	}
	if m.State != StateActive {
		t.Errorf("state mutated on rejected transition: %s", m.State)
	}
}

func TestMetadata_Transition_RejectsMutatingTerminalSession(t *testing.T) {
	m := &Metadata{State: StateArchived}
	if err := m.Transition(StateCompleted); err == nil {
		t.Error("expected transition out of a terminal state to be rejected")
	}
}

func TestMetadata_Transition_AppliesLegalMove(t *testing.T) {
	m := &Metadata{State: StateActive}
	if err := m.Transition(StatePending); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if m.State != StatePending {
		t.Errorf("state = %s, want pending", m.State)
	}
}
