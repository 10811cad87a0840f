package ids

import (
	"testing"
	"time"
)

func TestHashDeterministic(t *testing.T) {
	ts := time.Now()
	a := Hash("title|agent", ts, 0)
	b := Hash("title|agent", ts, 0)
	if a != b {
		t.Errorf("same inputs hashed to %s and %s", a, b)
	}
	if len(a) != Length || !Valid(a) {
		t.Errorf("bad id shape: %q", a)
	}
	if Hash("title|agent", ts, 1) == a {
		t.Error("nonce did not change the hash")
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	ts := time.Now()
	first := Hash("x", ts, 0)

	calls := 0
	id, err := Generate("x", ts, func(candidate string) (bool, error) {
		calls++
		return candidate == first, nil
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if id == first {
		t.Error("returned a colliding id")
	}
	if calls != 2 {
		t.Errorf("probed %d candidates, want 2", calls)
	}
}

func TestGenerateExhaustsNonces(t *testing.T) {
	_, err := Generate("x", time.Now(), func(string) (bool, error) {
		return true, nil
	})
	if err == nil {
		t.Error("expected failure when every candidate collides")
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"abcdef01":  true,
		"00000000":  true,
		"ABCDEF01":  false,
		"abcdefg1":  false,
		"abcdef0":   false,
		"abcdef012": false,
		"":          false,
	}
	for id, want := range cases {
		if got := Valid(id); got != want {
			t.Errorf("Valid(%q) = %v, want %v", id, got, want)
		}
	}
}
