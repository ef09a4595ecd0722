package handle

import "testing"

type object struct {
	guard Guard
}

func (o *object) IsValid() bool {
	return o != nil && o.guard.Valid()
}

func TestGuardLifecycle(t *testing.T) {
	var g Guard
	if g.Valid() || g.State() != StateNone {
		t.Fatalf("zero guard should not be alive: %v", g.State())
	}
	if g.Kill() {
		t.Fatalf("kill on unarmed guard should fail")
	}
	g.Arm()
	if !g.Valid() || g.State() != StateAlive {
		t.Fatalf("armed guard should be alive: %v", g.State())
	}
	if !g.Kill() {
		t.Fatalf("first kill should succeed")
	}
	if g.Valid() || g.State() != StateDead {
		t.Fatalf("killed guard should be dead: %v", g.State())
	}
	if g.Kill() {
		t.Fatalf("second kill should fail")
	}
}

func TestNilGuard(t *testing.T) {
	var g *Guard
	if g.Valid() || g.Kill() || g.State() != StateNone {
		t.Fatalf("nil guard must never be alive")
	}
}

func TestIsValidHandlesTypedNil(t *testing.T) {
	var o *object
	if IsValid(o) {
		t.Fatalf("typed nil should be invalid")
	}
	if IsValid(nil) {
		t.Fatalf("nil interface should be invalid")
	}
	live := &object{}
	live.guard.Arm()
	if !IsValid(live) {
		t.Fatalf("armed object should be valid")
	}
}
