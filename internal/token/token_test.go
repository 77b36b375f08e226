package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHeuristicEstimate(t *testing.T) {
	h := Heuristic{}

	n, err := h.Estimate("")
	if err != nil || n != 0 {
		t.Fatalf("empty text: got (%d, %v), want (0, nil)", n, err)
	}

	n, _ = h.Estimate("abcd")
	if n != 1 {
		t.Errorf("4 chars: got %d, want 1", n)
	}
	n, _ = h.Estimate("abcde")
	if n != 2 {
		t.Errorf("5 chars: got %d, want 2", n)
	}
}

func TestHeuristicMonotonic(t *testing.T) {
	h := Heuristic{}
	prev := 0
	for i := 1; i <= 64; i++ {
		n, _ := h.Estimate(strings.Repeat("x", i))
		if n < prev {
			t.Fatalf("count decreased at length %d: %d < %d", i, n, prev)
		}
		prev = n
	}
}

// failingEstimator always errors, forcing the fallback path.
type failingEstimator struct{}

func (failingEstimator) Estimate(string) (int, error) {
	return 0, errors.New("encoding unavailable")
}

func TestCounterFallsBackOnError(t *testing.T) {
	c := NewCounter(failingEstimator{})
	got := c.Count("abcdefgh")
	if got != 2 {
		t.Errorf("got %d, want heuristic fallback of 2", got)
	}
}

func TestCounterNilEstimator(t *testing.T) {
	c := NewCounter(nil)
	if got := c.Count("abcd"); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestCountMessageOverhead(t *testing.T) {
	c := NewCounter(nil)

	if got := c.CountMessage("abcd", "user"); got != 1+3 {
		t.Errorf("user message: got %d, want 4", got)
	}
	if got := c.CountMessage("abcd", "assistant"); got != 1+3 {
		t.Errorf("assistant message: got %d, want 4", got)
	}
	if got := c.CountMessage("abcd", "system"); got != 1+4 {
		t.Errorf("system message: got %d, want 5", got)
	}
}

func TestCountAllSkipsEmpty(t *testing.T) {
	c := NewCounter(nil)
	msgs := []RoleText{
		{Role: "user", Content: "abcd"},
		{Role: "assistant", Content: ""},
		{Role: "user", Content: "abcd"},
	}
	if got := c.CountAll(msgs); got != 8 {
		t.Errorf("got %d, want 8", got)
	}
}
