package sum

import "testing"

func TestXORSelfInverse(t *testing.T) {
	a := Calculate([]byte("hello"))
	b := Calculate([]byte("world"))
	if got := a.XOR(b).XOR(b); got != a {
		t.Errorf("XOR not self-inverse: got %s want %s", got, a)
	}
}

func TestZeroIsIdentity(t *testing.T) {
	a := Calculate([]byte("payload"))
	var z Sum
	if got := a.XOR(z); got != a {
		t.Errorf("zero sum is not XOR identity: got %s want %s", got, a)
	}
}

func TestHasPrefix(t *testing.T) {
	s := Calculate([]byte("abc"))
	full := s.String()
	if !s.HasPrefix(full[:8]) {
		t.Errorf("expected %s to have prefix %s", full, full[:8])
	}
	if !s.HasPrefix(strings_upper(full[:8])) {
		t.Errorf("prefix match should be case-insensitive")
	}
	if s.HasPrefix("zzzzzzzz") {
		t.Errorf("unrelated prefix should not match")
	}
}

func strings_upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

func TestFromBytesRoundTrip(t *testing.T) {
	s := Calculate([]byte("round trip"))
	got, ok := FromBytes(s.Bytes())
	if !ok || got != s {
		t.Errorf("FromBytes round trip failed: ok=%v got=%s want=%s", ok, got, s)
	}
}
