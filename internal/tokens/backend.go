// Package tokens implements the local token store: the node's view of
// which block currently holds each token it stores. The store is
// ordered by token address so that proof-of-storage signatures can be
// produced by scanning outward from a challenge token.
package tokens

import "github.com/EcProtocol/EcNode-sub003/internal/ring"

// Entry is the stored record for one token.
type Entry struct {
	Block ring.Block // Block is the block the token currently maps to
	Time  int64      // Time is the unix time of the last write, informational
}

// Backend is an ordered token index. Implementations must keep tokens
// sorted by address; proof generation depends on directional scans.
type Backend interface {
	// Lookup returns the entry for a token, if stored.
	Lookup(token ring.Token) (Entry, bool, error)

	// Set stores or replaces the entry for a token.
	Set(token ring.Token, e Entry) error

	// Delete removes a token. Deleting an absent token is not an error.
	Delete(token ring.Token) error

	// AscendAfter visits tokens strictly greater than after, in
	// ascending order, until fn returns false.
	AscendAfter(after ring.Token, fn func(ring.Token, Entry) bool) error

	// DescendBefore visits tokens strictly smaller than before, in
	// descending order, until fn returns false.
	DescendBefore(before ring.Token, fn func(ring.Token, Entry) bool) error

	// Range visits every stored token in ascending order until fn
	// returns false.
	Range(fn func(ring.Token, Entry) bool) error

	// Len returns the number of stored tokens.
	Len() (int, error)

	// Close releases the backend's resources.
	Close() error
}
