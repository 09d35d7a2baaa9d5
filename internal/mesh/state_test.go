package mesh

import "testing"

func TestResolveRole(t *testing.T) {
	tests := []struct {
		local, remote PeerID
		want          Role
	}{
		{"alice", "bob", Initiator},
		{"bob", "alice", Receiver},
		{"carol", "bob", Receiver},
		{"a1", "a2", Initiator},
		{"Zed", "alice", Initiator}, // byte order, not case folded
	}

	for _, tt := range tests {
		t.Run(string(tt.local)+"-"+string(tt.remote), func(t *testing.T) {
			if got := ResolveRole(tt.local, tt.remote); got != tt.want {
				t.Errorf("ResolveRole(%q, %q) = %s, want %s", tt.local, tt.remote, got, tt.want)
			}
			// Repeating the call never changes the answer.
			if got := ResolveRole(tt.local, tt.remote); got != tt.want {
				t.Errorf("second ResolveRole(%q, %q) = %s, want %s", tt.local, tt.remote, got, tt.want)
			}
			// Exactly one side of the pair initiates.
			mirror := ResolveRole(tt.remote, tt.local)
			if (tt.want == Initiator) == (mirror == Initiator) {
				t.Errorf("both sides resolved to %s", tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Idle, RoleAssigned, true},
		{Idle, Connected, false},
		{RoleAssigned, AwaitingLocalDescription, true},
		{RoleAssigned, AwaitingRemoteDescription, true},
		{AwaitingLocalDescription, LocalDescriptionSet, true},
		{AwaitingLocalDescription, RemoteDescriptionSet, false},
		{LocalDescriptionSet, AwaitingRemoteDescription, true},
		{LocalDescriptionSet, Connected, true},
		{AwaitingRemoteDescription, RemoteDescriptionSet, true},
		{RemoteDescriptionSet, AwaitingLocalDescription, true},
		{RemoteDescriptionSet, Connected, true},
		{Connected, AwaitingLocalDescription, false},
		{Connected, Closed, true},
		{Idle, Failed, true},
		{AwaitingRemoteDescription, Closed, true},
		{Closed, RoleAssigned, false},
		{Failed, Closed, false},
		{Closed, Failed, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEntryTransitionRejectsIllegalEdge(t *testing.T) {
	e := newEntry(t.Context(), "bob", Initiator)
	if err := e.transition(Connected); err == nil {
		t.Fatal("transition Idle -> Connected succeeded")
	}
	if e.State() != Idle {
		t.Errorf("state = %s after rejected transition, want idle", e.State())
	}
}

func TestStatusOf(t *testing.T) {
	tests := map[State]PeerStatus{
		Idle:                      StatusNegotiating,
		AwaitingRemoteDescription: StatusNegotiating,
		Connected:                 StatusConnected,
		Closed:                    StatusClosed,
		Failed:                    StatusFailed,
	}
	for state, want := range tests {
		if got := StatusOf(state); got != want {
			t.Errorf("StatusOf(%s) = %s, want %s", state, got, want)
		}
	}
}
