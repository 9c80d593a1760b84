package tokens

import (
	"testing"

	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// TestSnapshot_RoundTrip tests exporting a memory store and importing
// it into a persistent one.
func TestSnapshot_RoundTrip(t *testing.T) {
	src := NewMemory()
	for i := uint64(0); i < 100; i++ {
		if err := src.Set(ring.Token(i*1000), Entry{Block: ring.Block(i), Time: int64(i)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	snapshot, err := Export(src)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, cleanup := newTestPebble(t)
	defer cleanup()

	n, err := Import(dst, snapshot)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 100 {
		t.Fatalf("imported %d tokens, want 100", n)
	}

	e, ok, err := dst.Lookup(42_000)
	if err != nil || !ok {
		t.Fatalf("lookup after import: ok=%v err=%v", ok, err)
	}
	if e.Block != 42 || e.Time != 42 {
		t.Fatalf("entry after import: %+v", e)
	}
}

// TestSnapshot_Empty tests that an empty store survives the round trip.
func TestSnapshot_Empty(t *testing.T) {
	snapshot, err := Export(NewMemory())
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := NewMemory()
	n, err := Import(dst, snapshot)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 0 {
		t.Fatalf("imported %d tokens from an empty snapshot", n)
	}
}

// TestSnapshot_Corrupt tests rejection of malformed input.
func TestSnapshot_Corrupt(t *testing.T) {
	if _, err := Import(NewMemory(), []byte("not a snapshot")); err == nil {
		t.Fatal("expected an error for garbage input")
	}
}
