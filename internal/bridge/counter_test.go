package bridge

import "testing"

func TestFailureCounterEscalatesAtThreshold(t *testing.T) {
	c := NewFailureCounter(3)

	if n, esc := c.Fail(); n != 1 || esc {
		t.Errorf("first failure: got (%d, %v), want (1, false)", n, esc)
	}
	if n, esc := c.Fail(); n != 2 || esc {
		t.Errorf("second failure: got (%d, %v), want (2, false)", n, esc)
	}
	if n, esc := c.Fail(); n != 3 || !esc {
		t.Errorf("third failure: got (%d, %v), want (3, true)", n, esc)
	}
}

func TestFailureCounterResetClearsCount(t *testing.T) {
	c := NewFailureCounter(3)
	c.Fail()
	c.Fail()
	c.Reset()

	if c.Count() != 0 {
		t.Fatalf("count after reset = %d, want 0", c.Count())
	}
	if n, esc := c.Fail(); n != 1 || esc {
		t.Errorf("failure after reset: got (%d, %v), want (1, false)", n, esc)
	}
}

func TestFailureCounterDefaultThreshold(t *testing.T) {
	for _, bad := range []int{0, -5} {
		c := NewFailureCounter(bad)
		if c.Threshold() != DefaultFailureThreshold {
			t.Errorf("NewFailureCounter(%d).Threshold() = %d, want %d",
				bad, c.Threshold(), DefaultFailureThreshold)
		}
	}
}
