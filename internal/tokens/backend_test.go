package tokens

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// newTestPebble creates a temporary persistent backend for testing.
func newTestPebble(t *testing.T) (*Pebble, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "tokens-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	p, err := OpenPebble(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to open backend: %v", err)
	}

	cleanup := func() {
		p.Close()
		os.RemoveAll(dir)
	}

	return p, cleanup
}

// runBackendTests exercises the Backend contract against any
// implementation.
func runBackendTests(t *testing.T, b Backend) {
	t.Helper()

	tokens := []ring.Token{500, 100, 900, 300, 700}
	for i, tok := range tokens {
		if err := b.Set(tok, Entry{Block: ring.Block(uint64(tok) * 10), Time: int64(i)}); err != nil {
			t.Fatalf("set %d: %v", tok, err)
		}
	}

	e, ok, err := b.Lookup(300)
	if err != nil || !ok {
		t.Fatalf("lookup 300: ok=%v err=%v", ok, err)
	}
	if e.Block != 3000 {
		t.Fatalf("lookup 300: block %d, want 3000", e.Block)
	}

	if _, ok, err := b.Lookup(301); err != nil || ok {
		t.Fatalf("lookup absent: ok=%v err=%v", ok, err)
	}

	// Replacing keeps a single entry per token.
	if err := b.Set(300, Entry{Block: 42}); err != nil {
		t.Fatalf("replace 300: %v", err)
	}
	if e, _, _ := b.Lookup(300); e.Block != 42 {
		t.Fatalf("replaced 300: block %d, want 42", e.Block)
	}

	if n, err := b.Len(); err != nil || n != 5 {
		t.Fatalf("len: %d err=%v, want 5", n, err)
	}

	// Ascending scan is strict: 300 itself must not appear.
	var up []ring.Token
	err = b.AscendAfter(300, func(tok ring.Token, _ Entry) bool {
		up = append(up, tok)
		return true
	})
	if err != nil {
		t.Fatalf("ascend: %v", err)
	}
	assertTokens(t, up, []ring.Token{500, 700, 900})

	// Descending scan is strict and reversed.
	var down []ring.Token
	err = b.DescendBefore(700, func(tok ring.Token, _ Entry) bool {
		down = append(down, tok)
		return true
	})
	if err != nil {
		t.Fatalf("descend: %v", err)
	}
	assertTokens(t, down, []ring.Token{500, 300, 100})

	// Early stop.
	var first []ring.Token
	err = b.AscendAfter(0, func(tok ring.Token, _ Entry) bool {
		first = append(first, tok)
		return len(first) < 2
	})
	if err != nil {
		t.Fatalf("ascend with stop: %v", err)
	}
	assertTokens(t, first, []ring.Token{100, 300})

	// Address-space edges produce empty scans, not wraps.
	err = b.AscendAfter(math.MaxUint64, func(ring.Token, Entry) bool {
		t.Fatal("ascend past the top of the address space visited a token")
		return false
	})
	if err != nil {
		t.Fatalf("ascend at max: %v", err)
	}

	err = b.DescendBefore(0, func(ring.Token, Entry) bool {
		t.Fatal("descend past the bottom of the address space visited a token")
		return false
	})
	if err != nil {
		t.Fatalf("descend at zero: %v", err)
	}

	// Range covers everything in order.
	var all []ring.Token
	err = b.Range(func(tok ring.Token, _ Entry) bool {
		all = append(all, tok)
		return true
	})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	assertTokens(t, all, []ring.Token{100, 300, 500, 700, 900})

	if err := b.Delete(300); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := b.Lookup(300); ok {
		t.Fatal("deleted token still present")
	}
	if err := b.Delete(300); err != nil {
		t.Fatalf("double delete must be a no-op: %v", err)
	}
}

func assertTokens(t *testing.T, got, want []ring.Token) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %v", len(got), got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %v, want %v", i, got, want)
		}
	}
}

func TestMemoryBackend(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	runBackendTests(t, b)
}

func TestPebbleBackend(t *testing.T) {
	b, cleanup := newTestPebble(t)
	defer cleanup()

	runBackendTests(t, b)
}

func TestPebbleBackend_Reopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "tokens-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "db")

	b, err := OpenPebble(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.Set(123, Entry{Block: 456, Time: 789}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err = OpenPebble(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	e, ok, err := b.Lookup(123)
	if err != nil || !ok {
		t.Fatalf("lookup after reopen: ok=%v err=%v", ok, err)
	}
	if e.Block != 456 || e.Time != 789 {
		t.Fatalf("entry after reopen: %+v", e)
	}
}
