package election

import (
	"errors"
	"testing"

	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

const (
	testTarget    = ring.Token(1 << 40)
	testRequester = ring.Peer(0xEC)
)

// makeSignature builds a verifiable signature for the given claim by
// placing each slot token in its own 1024-wide band around the target.
// blockTag controls the mapping blocks so tests can steer the overlap
// between signatures.
func makeSignature(t *testing.T, target ring.Token, claimed ring.Block, requester ring.Peer, blockTag uint64) proof.Signature {
	t.Helper()

	chunks := proof.Chunks(target, claimed, requester)
	base := uint64(target) >> 10

	var sig proof.Signature
	for i := 0; i < proof.SignatureSize/2; i++ {
		token := ring.Token((base+uint64(i)+1)<<10 | uint64(chunks[i]))
		sig[i] = proof.Mapping{Token: token, Block: ring.Block(uint64(token) + blockTag)}
	}

	for i := proof.SignatureSize / 2; i < proof.SignatureSize; i++ {
		token := ring.Token((base-uint64(i-4))<<10 | uint64(chunks[i]))
		sig[i] = proof.Mapping{Token: token, Block: ring.Block(uint64(token) + blockTag)}
	}

	return sig
}

// newTestElection creates an election with default configuration.
func newTestElection(t *testing.T) *Election {
	t.Helper()

	e, err := New(testTarget, testRequester, DefaultConfig())
	if err != nil {
		t.Fatalf("create election: %v", err)
	}

	return e
}

// answerFrom opens a channel to peer and delivers a valid answer on it.
func answerFrom(t *testing.T, e *Election, peer ring.Peer, claimed ring.Block, blockTag uint64) Ticket {
	t.Helper()

	ticket, err := e.CreateChannel(peer)
	if err != nil {
		t.Fatalf("create channel to %d: %v", peer, err)
	}

	sig := makeSignature(t, testTarget, claimed, testRequester, blockTag)
	answer := proof.Mapping{Token: testTarget, Block: claimed}

	if err := e.HandleAnswer(ticket, answer, sig, peer); err != nil {
		t.Fatalf("handle answer from %d: %v", peer, err)
	}

	return ticket
}

// TestCreateChannel_DuplicateHop tests the one-route-per-hop rule.
func TestCreateChannel_DuplicateHop(t *testing.T) {
	e := newTestElection(t)

	if _, err := e.CreateChannel(500); err != nil {
		t.Fatalf("first channel: %v", err)
	}

	if _, err := e.CreateChannel(500); !errors.Is(err, ErrChannelExists) {
		t.Fatalf("expected ErrChannelExists, got %v", err)
	}
}

// TestCreateChannel_MaxChannels tests the channel budget.
func TestCreateChannel_MaxChannels(t *testing.T) {
	e := newTestElection(t)

	for i := 0; i < DefaultConfig().MaxChannels; i++ {
		if _, err := e.CreateChannel(ring.Peer(1000 + i)); err != nil {
			t.Fatalf("channel %d: %v", i, err)
		}
	}

	if e.CanCreateChannel() {
		t.Fatal("expected exhausted channel budget")
	}

	if _, err := e.CreateChannel(9999); !errors.Is(err, ErrMaxChannels) {
		t.Fatalf("expected ErrMaxChannels, got %v", err)
	}
}

// TestTicket_Deterministic tests that a route ticket is reproducible
// within one election and different across elections.
func TestTicket_Deterministic(t *testing.T) {
	e1 := newTestElection(t)
	e2 := newTestElection(t)

	t1, err := e1.CreateChannel(500)
	if err != nil {
		t.Fatalf("e1 channel: %v", err)
	}

	t2, err := e2.CreateChannel(500)
	if err != nil {
		t.Fatalf("e2 channel: %v", err)
	}

	if t1 == t2 {
		t.Fatal("same (target, hop) must yield different tickets under different secrets")
	}

	if e1.secret.ticket(testTarget, 500) != t1 {
		t.Fatal("ticket derivation is not deterministic within an election")
	}
}

// TestHandleAnswer_CrossElectionTicket tests that a ticket from one
// election is rejected by another even for identical target and hop.
func TestHandleAnswer_CrossElectionTicket(t *testing.T) {
	e1 := newTestElection(t)
	e2 := newTestElection(t)

	ticket, err := e1.CreateChannel(500)
	if err != nil {
		t.Fatalf("e1 channel: %v", err)
	}

	if _, err := e2.CreateChannel(500); err != nil {
		t.Fatalf("e2 channel: %v", err)
	}

	sig := makeSignature(t, testTarget, 70, testRequester, 1)
	answer := proof.Mapping{Token: testTarget, Block: 70}

	if err := e2.HandleAnswer(ticket, answer, sig, 500); !errors.Is(err, ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket across elections, got %v", err)
	}
}

// TestHandleAnswer_WrongToken tests rejection of an answer for a
// different challenge.
func TestHandleAnswer_WrongToken(t *testing.T) {
	e := newTestElection(t)

	ticket, err := e.CreateChannel(500)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	sig := makeSignature(t, testTarget, 70, testRequester, 1)
	answer := proof.Mapping{Token: testTarget + 1, Block: 70}

	if err := e.HandleAnswer(ticket, answer, sig, 500); !errors.Is(err, ErrWrongToken) {
		t.Fatalf("expected ErrWrongToken, got %v", err)
	}
}

// TestHandleAnswer_Valid tests that a verified answer counts.
func TestHandleAnswer_Valid(t *testing.T) {
	e := newTestElection(t)
	answerFrom(t, e, 500, 70, 1)

	if got := e.ValidResponseCount(); got != 1 {
		t.Fatalf("expected 1 valid response, got %d", got)
	}
}

// TestHandleAnswer_DuplicateBlocksChannel tests the anti-gaming state
// machine: a second response on the same ticket, whatever its content,
// blocks the channel and discards the first response too.
func TestHandleAnswer_DuplicateBlocksChannel(t *testing.T) {
	e := newTestElection(t)
	ticket := answerFrom(t, e, 500, 70, 1)

	sig := makeSignature(t, testTarget, 70, testRequester, 1)
	answer := proof.Mapping{Token: testTarget, Block: 70}

	if err := e.HandleAnswer(ticket, answer, sig, 500); !errors.Is(err, ErrDuplicateResponse) {
		t.Fatalf("expected ErrDuplicateResponse, got %v", err)
	}

	if got := e.ValidResponseCount(); got != 0 {
		t.Fatalf("blocked channel must contribute zero responses, got %d", got)
	}

	if got := e.BlockedPeerCount(); got != 1 {
		t.Fatalf("expected 1 blocked peer, got %d", got)
	}

	// The route stays dead.
	if err := e.HandleAnswer(ticket, answer, sig, 500); !errors.Is(err, ErrChannelBlocked) {
		t.Fatalf("expected ErrChannelBlocked, got %v", err)
	}

	if res := e.CheckForWinner(); res.Verdict != NoConsensus {
		t.Fatalf("expected NoConsensus with all responses blocked, got %v", res.Verdict)
	}
}

// TestHandleAnswer_BadSignature tests that a failed verification is a
// typed error, consumes the response slot and leaves nothing counted.
func TestHandleAnswer_BadSignature(t *testing.T) {
	e := newTestElection(t)

	ticket, err := e.CreateChannel(500)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	sig := makeSignature(t, testTarget, 70, testRequester, 1)
	sig[0].Token ^= 1 // break the suffix
	answer := proof.Mapping{Token: testTarget, Block: 70}

	if err := e.HandleAnswer(ticket, answer, sig, 500); !errors.Is(err, proof.ErrVerify) {
		t.Fatalf("expected proof.ErrVerify, got %v", err)
	}

	if got := e.ValidResponseCount(); got != 0 {
		t.Fatalf("invalid response must not count, got %d", got)
	}

	// A second response, even a valid one, is still the second response.
	good := makeSignature(t, testTarget, 70, testRequester, 1)
	if err := e.HandleAnswer(ticket, answer, good, 500); !errors.Is(err, ErrDuplicateResponse) {
		t.Fatalf("expected ErrDuplicateResponse after a spent slot, got %v", err)
	}
}

// TestHandleReferral_DestroysChannel tests the referral path.
func TestHandleReferral_DestroysChannel(t *testing.T) {
	e := newTestElection(t)

	ticket, err := e.CreateChannel(500)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	suggested := [2]ring.Peer{testTarget + 5000, testTarget + 50}

	next, err := e.HandleReferral(ticket, testTarget, suggested, 500)
	if err != nil {
		t.Fatalf("handle referral: %v", err)
	}

	if next != suggested[1] {
		t.Fatalf("expected the target-nearest suggestion %d, got %d", suggested[1], next)
	}

	if got := e.ChannelCount(); got != 0 {
		t.Fatalf("expected 0 live channels after referral, got %d", got)
	}

	// The destroyed route's ticket is gone for good.
	sig := makeSignature(t, testTarget, 70, testRequester, 1)
	answer := proof.Mapping{Token: testTarget, Block: 70}

	if err := e.HandleAnswer(ticket, answer, sig, 500); !errors.Is(err, ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket on destroyed channel, got %v", err)
	}

	// And the hop cannot be reopened to mint the same ticket again.
	if _, err := e.CreateChannel(500); !errors.Is(err, ErrChannelExists) {
		t.Fatalf("expected ErrChannelExists on reused hop, got %v", err)
	}
}

// TestHandleReferral_WrongToken tests referral token validation.
func TestHandleReferral_WrongToken(t *testing.T) {
	e := newTestElection(t)

	ticket, err := e.CreateChannel(500)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	if _, err := e.HandleReferral(ticket, testTarget+1, [2]ring.Peer{1, 2}, 500); !errors.Is(err, ErrWrongToken) {
		t.Fatalf("expected ErrWrongToken, got %v", err)
	}

	if got := e.ChannelCount(); got != 1 {
		t.Fatalf("channel must survive an invalid referral, got %d channels", got)
	}
}

// TestCheckForWinner_SingleUnanimous tests three identical responses
// forming one winning cluster.
func TestCheckForWinner_SingleUnanimous(t *testing.T) {
	e := newTestElection(t)

	peers := []ring.Peer{testTarget + 30, testTarget + 10, testTarget - 20}
	for _, p := range peers {
		answerFrom(t, e, p, 70, 1)
	}

	res := e.CheckForWinner()
	if res.Verdict != Single {
		t.Fatalf("expected Single, got %v", res.Verdict)
	}

	if len(res.Cluster.Members) != 3 {
		t.Fatalf("expected 3-member cluster, got %d", len(res.Cluster.Members))
	}

	if res.Winner != testTarget+10 {
		t.Fatalf("expected nearest peer %d to win, got %d", testTarget+10, res.Winner)
	}
}

// TestCheckForWinner_SplitBrain tests two internally identical but
// mutually disjoint response groups of equal size.
func TestCheckForWinner_SplitBrain(t *testing.T) {
	e := newTestElection(t)

	groupA := []ring.Peer{101, 102, 103}
	groupB := []ring.Peer{201, 202, 203}

	for _, p := range groupA {
		answerFrom(t, e, p, 70, 1)
	}
	for _, p := range groupB {
		answerFrom(t, e, p, 71, 2)
	}

	res := e.CheckForWinner()
	if res.Verdict != SplitBrain {
		t.Fatalf("expected SplitBrain, got %v", res.Verdict)
	}

	if len(res.Cluster.Members) != 3 || len(res.Rival.Members) != 3 {
		t.Fatalf("expected 3 vs 3 clusters, got %d vs %d",
			len(res.Cluster.Members), len(res.Rival.Members))
	}

	if res.Winner == res.RivalWinner {
		t.Fatal("split-brain winners must come from different clusters")
	}
}

// TestCheckForWinner_LoneResponse tests that a single valid response
// cannot form a cluster.
func TestCheckForWinner_LoneResponse(t *testing.T) {
	e := newTestElection(t)
	answerFrom(t, e, 500, 70, 1)

	if res := e.CheckForWinner(); res.Verdict != NoConsensus {
		t.Fatalf("expected NoConsensus for a lone response, got %v", res.Verdict)
	}
}

// TestCheckForWinner_MajorityWithDissent covers the common real case:
// five responses, four sharing nine of ten mappings and one disagreeing
// entirely, yielding a Single verdict with the ring-nearest member of
// the majority cluster as winner.
func TestCheckForWinner_MajorityWithDissent(t *testing.T) {
	e := newTestElection(t)

	majority := []ring.Peer{testTarget + 100, testTarget + 20, testTarget - 5, testTarget + 300}
	base := makeSignature(t, testTarget, 70, testRequester, 1)
	answer := proof.Mapping{Token: testTarget, Block: 70}

	for i, p := range majority {
		sig := base
		sig[0].Block = ring.Block(9000 + i) // each pair of the four shares 9/10

		ticket, err := e.CreateChannel(p)
		if err != nil {
			t.Fatalf("create channel: %v", err)
		}

		if err := e.HandleAnswer(ticket, answer, sig, p); err != nil {
			t.Fatalf("majority answer: %v", err)
		}
	}

	answerFrom(t, e, testTarget-1, 71, 2) // closest peer of all, but disagrees

	res := e.CheckForWinner()
	if res.Verdict != Single {
		t.Fatalf("expected Single (4/5 >= 0.6), got %v", res.Verdict)
	}

	if len(res.Cluster.Members) != 4 {
		t.Fatalf("expected 4-member cluster, got %d", len(res.Cluster.Members))
	}

	if res.Winner != testTarget-5 {
		t.Fatalf("expected nearest majority member %d, got %d", testTarget-5, res.Winner)
	}
}

// TestCheckForWinner_Idempotent tests that polling does not mutate
// state.
func TestCheckForWinner_Idempotent(t *testing.T) {
	e := newTestElection(t)

	for _, p := range []ring.Peer{301, 302, 303} {
		answerFrom(t, e, p, 70, 1)
	}

	first := e.CheckForWinner()
	second := e.CheckForWinner()

	if first.Verdict != second.Verdict || first.Winner != second.Winner {
		t.Fatal("repeated winner checks disagree")
	}

	if got := e.ValidResponseCount(); got != 3 {
		t.Fatalf("winner check must not consume responses, got %d", got)
	}
}
