package archibald

import "testing"

func TestContentHashDeterminism(t *testing.T) {
	fields := []string{"C001", "Rossi Srl", "IT01234567890", "rossi@pec.it"}
	if ContentHash(fields) != ContentHash(fields) {
		t.Fatalf("same fields must produce the same hash")
	}
}

func TestContentHashChangesPerField(t *testing.T) {
	base := []string{"C001", "Rossi Srl", "IT01234567890", "rossi@pec.it"}
	baseHash := ContentHash(base)
	for i := range base {
		changed := make([]string, len(base))
		copy(changed, base)
		changed[i] = changed[i] + "x"
		if ContentHash(changed) == baseHash {
			t.Fatalf("changing field %d did not change the hash", i)
		}
	}
}

func TestContentHashFieldBoundaries(t *testing.T) {
	a := ContentHash([]string{"ab", "c"})
	b := ContentHash([]string{"a", "bc"})
	if a == b {
		t.Fatalf("field boundaries must affect the hash")
	}
}

func TestContentHashOrderMatters(t *testing.T) {
	a := ContentHash([]string{"one", "two"})
	b := ContentHash([]string{"two", "one"})
	if a == b {
		t.Fatalf("field order must affect the hash")
	}
}
