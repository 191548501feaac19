package core

import "testing"

func TestMonitorAdvances(t *testing.T) {
	m := NewMonitor(0)

	if got := m.Observe(100); got != OutcomeAdvanced {
		t.Fatalf("first observation = %s, want advanced", got)
	}
	if got := m.Observe(101); got != OutcomeAdvanced {
		t.Fatalf("forward observation = %s, want advanced", got)
	}
	if cursor, ok := m.Current(); !ok || cursor != 101 {
		t.Errorf("cursor = %d (ok=%v), want 101", cursor, ok)
	}
}

func TestMonitorToleratesSmallBackwardJumps(t *testing.T) {
	m := NewMonitor(0)
	m.Observe(1000)

	// Exactly at the tolerance boundary and at the cursor itself.
	for _, block := range []uint64{1000, 960, 950} {
		if got := m.Observe(block); got != OutcomeIgnored {
			t.Errorf("Observe(%d) = %s, want ignored", block, got)
		}
	}
	if cursor, _ := m.Current(); cursor != 1000 {
		t.Errorf("cursor = %d, want 1000 (ignored samples do not move it)", cursor)
	}
}

func TestMonitorResetsOnDeepRewind(t *testing.T) {
	m := NewMonitor(0)
	m.Observe(1000)

	if got := m.Observe(949); got != OutcomeReset {
		t.Fatalf("Observe(949) = %s, want reset", got)
	}
	if cursor, _ := m.Current(); cursor != 949 {
		t.Errorf("cursor = %d, want 949 (reset restarts at observed block)", cursor)
	}

	if got := m.Observe(10); got != OutcomeReset {
		t.Fatalf("Observe(10) after reset = %s, want reset", got)
	}
	if cursor, _ := m.Current(); cursor != 10 {
		t.Errorf("cursor = %d, want 10", cursor)
	}
}

func TestMonitorCustomTolerance(t *testing.T) {
	m := NewMonitor(5)
	m.Observe(100)

	if got := m.Observe(95); got != OutcomeIgnored {
		t.Errorf("Observe(95) = %s, want ignored", got)
	}
	if got := m.Observe(94); got != OutcomeReset {
		t.Errorf("Observe(94) = %s, want reset", got)
	}
}

func TestMonitorRestore(t *testing.T) {
	m := NewMonitor(0)
	m.Restore(500)

	if cursor, ok := m.Current(); !ok || cursor != 500 {
		t.Fatalf("cursor = %d (ok=%v), want 500", cursor, ok)
	}
	if got := m.Observe(400); got != OutcomeReset {
		t.Errorf("Observe(400) after restore = %s, want reset", got)
	}
}
