package priosched

import "testing"

func TestPriorityString(t *testing.T) {
	cases := map[Priority]string{
		High:      "high",
		Low:       "low",
		Starvable: "starvable",
		Priority(99): "unknown",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Priority(%d).String() = %q, want %q", p, got, want)
		}
	}
}

func TestPriorityValid(t *testing.T) {
	for _, p := range []Priority{High, Low, Starvable} {
		if !p.valid() {
			t.Errorf("%v.valid() = false, want true", p)
		}
	}
	if Priority(-1).valid() {
		t.Error("Priority(-1).valid() = true, want false")
	}
	if Priority(42).valid() {
		t.Error("Priority(42).valid() = true, want false")
	}
}
