package tokens

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

const (
	// keyPrefix namespaces token records inside the database.
	keyPrefix = "tk:"

	// entrySize is the encoded size of an Entry value.
	entrySize = 16

	// syncInterval is the interval between WAL syncs.
	syncInterval = 100 * time.Millisecond
)

// Pebble is a Backend persisted in a Pebble database. Keys are
// big-endian token addresses, so Pebble's lexicographic order is the
// numeric token order the directional scans need. Writes are
// non-blocking (NoSync) and a background goroutine periodically syncs
// the WAL to disk for durability.
type Pebble struct {
	db       *pebble.DB
	stopSync chan struct{}
	wg       sync.WaitGroup
}

// OpenPebble opens (or creates) a persistent backend at the given path.
func OpenPebble(path string) (*Pebble, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20), // 32 MB cache
		MemTableSize:                16 << 20,                  // 16 MB memtable
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open token store:\n%w", err)
	}

	p := &Pebble{
		db:       db,
		stopSync: make(chan struct{}),
	}

	p.startSyncLoop()

	return p, nil
}

// encodeKey builds the database key for a token.
func encodeKey(token ring.Token) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], uint64(token))

	return key
}

// decodeKey extracts the token from a database key.
func decodeKey(key []byte) ring.Token {
	return ring.Token(binary.BigEndian.Uint64(key[len(keyPrefix):]))
}

// encodeEntry serializes an Entry value.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, entrySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.Block))
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.Time))

	return buf
}

// decodeEntry deserializes an Entry value.
func decodeEntry(buf []byte) (Entry, error) {
	if len(buf) != entrySize {
		return Entry{}, fmt.Errorf("token entry is %d bytes, want %d", len(buf), entrySize)
	}

	return Entry{
		Block: ring.Block(binary.BigEndian.Uint64(buf[0:8])),
		Time:  int64(binary.BigEndian.Uint64(buf[8:16])),
	}, nil
}

// Lookup returns the entry for a token, if stored.
func (p *Pebble) Lookup(token ring.Token) (Entry, bool, error) {
	value, closer, err := p.db.Get(encodeKey(token))
	if err == pebble.ErrNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	defer closer.Close()

	e, err := decodeEntry(value)
	if err != nil {
		return Entry{}, false, err
	}

	return e, true, nil
}

// Set stores or replaces the entry for a token.
// The write is buffered and synced periodically by the background goroutine.
func (p *Pebble) Set(token ring.Token, e Entry) error {
	return p.db.Set(encodeKey(token), encodeEntry(e), pebble.NoSync)
}

// Delete removes a token from the store.
func (p *Pebble) Delete(token ring.Token) error {
	return p.db.Delete(encodeKey(token), pebble.NoSync)
}

// AscendAfter visits tokens strictly greater than after, ascending.
func (p *Pebble) AscendAfter(after ring.Token, fn func(ring.Token, Entry) bool) error {
	if after == math.MaxUint64 {
		return nil
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: encodeKey(after + 1),
		UpperBound: prefixUpperBound(),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		e, err := decodeEntry(value)
		if err != nil {
			return err
		}

		if !fn(decodeKey(iter.Key()), e) {
			return nil
		}
	}

	return iter.Error()
}

// DescendBefore visits tokens strictly smaller than before, descending.
func (p *Pebble) DescendBefore(before ring.Token, fn func(ring.Token, Entry) bool) error {
	if before == 0 {
		return nil
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: encodeKey(0),
		UpperBound: encodeKey(before), // exclusive, so strictly smaller
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.Last(); iter.Valid(); iter.Prev() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		e, err := decodeEntry(value)
		if err != nil {
			return err
		}

		if !fn(decodeKey(iter.Key()), e) {
			return nil
		}
	}

	return iter.Error()
}

// Range visits every stored token in ascending order.
func (p *Pebble) Range(fn func(ring.Token, Entry) bool) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: encodeKey(0),
		UpperBound: prefixUpperBound(),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		e, err := decodeEntry(value)
		if err != nil {
			return err
		}

		if !fn(decodeKey(iter.Key()), e) {
			return nil
		}
	}

	return iter.Error()
}

// Len counts the stored tokens. Linear in store size; meant for
// diagnostics, not hot paths.
func (p *Pebble) Len() (int, error) {
	count := 0
	err := p.Range(func(ring.Token, Entry) bool {
		count++
		return true
	})

	return count, err
}

// Close stops the sync goroutine and closes the database.
// It performs a final sync before closing to ensure durability.
func (p *Pebble) Close() error {
	close(p.stopSync)
	p.wg.Wait()

	if err := p.sync(); err != nil {
		return err
	}

	return p.db.Close()
}

// prefixUpperBound is the exclusive upper bound covering every token key.
func prefixUpperBound() []byte {
	upper := []byte(keyPrefix)
	upper[len(upper)-1]++

	return upper
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (p *Pebble) startSyncLoop() {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = p.sync()
			case <-p.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (p *Pebble) sync() error {
	return p.db.LogData(nil, pebble.Sync)
}
