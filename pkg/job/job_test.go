package job

import (
	"strings"
	"testing"
)

func TestLifecycleIsMonotone(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusInProgress}:    true,
		{StatusInProgress, StatusInProgress}: true, // redelivery
		{StatusInProgress, StatusDeployed}:   true,
		{StatusInProgress, StatusError}:      true,
		{StatusDeployed, StatusDeployed}:     true, // duplicate terminal write
		{StatusError, StatusError}:           true,
	}

	all := []Status{StatusPending, StatusInProgress, StatusDeployed, StatusError}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %t, want %t", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	for _, s := range []Status{StatusDeployed, StatusError} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if CanTransition(s, StatusInProgress) || CanTransition(s, StatusPending) {
			t.Errorf("%s must not transition backward", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPendingIsCreationOnly(t *testing.T) {
	if got := Priors(StatusPending); got != nil {
		t.Errorf("Priors(PENDING) = %v, want nil", got)
	}
}

func TestNewIDIsSubdomainSafe(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID()
		if id != strings.ToLower(id) {
			t.Fatalf("id %q is not lowercase", id)
		}
		if len(id) != 10 {
			t.Fatalf("id %q has length %d, want 10", id, len(id))
		}
		for _, r := range id {
			if !strings.ContainsRune(idAlphabet, r) {
				t.Fatalf("id %q contains %q outside the alphabet", id, r)
			}
		}
		if seen[id] {
			t.Fatalf("id %q generated twice", id)
		}
		seen[id] = true
	}
}
