package policy

import "testing"

func TestDefaultThreshold(t *testing.T) {
	p := Default()
	p.AddCommits(30)
	p.AddEdits(1)
	// 30*5+1 = 151 > 150
	if !p.WantSnapshot() {
		t.Errorf("expected snapshot to be due at 151")
	}
}

func TestDefaultBelowThreshold(t *testing.T) {
	p := Default()
	p.AddCommits(29)
	p.AddEdits(5)
	// 29*5+5 = 150, not > 150
	if p.WantSnapshot() {
		t.Errorf("expected snapshot not due at exactly 150")
	}
}

func TestResetClearsCounters(t *testing.T) {
	p := Default()
	p.AddCommits(100)
	p.Reset()
	if p.WantSnapshot() {
		t.Errorf("expected reset policy to not want a snapshot")
	}
}

func TestForceWantsSnapshot(t *testing.T) {
	p := Default()
	p.Force()
	if !p.WantSnapshot() {
		t.Errorf("expected forced policy to want a snapshot")
	}
}
