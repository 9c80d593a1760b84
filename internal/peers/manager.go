// Package peers runs the peer lifecycle around the election core:
// discovering peers, electing trustworthy ones, inviting winners and
// pruning the connection set back into its distance budgets.
//
// The Manager is the scheduling half of the design. It owns all timing
// (a tick-based logical clock fed by the host) and all peer state,
// drives election.Election instances, and expresses every outgoing
// message as an Action value for the host to send. It never touches
// the network itself.
package peers

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/EcProtocol/EcNode-sub003/internal/election"
	"github.com/EcProtocol/EcNode-sub003/internal/logger"
	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
	"github.com/EcProtocol/EcNode-sub003/internal/tokens"
)

// electionPhase tracks an election past its active life, so late
// responses and repeat challenges hit a cache instead of restarting it.
type electionPhase uint8

const (
	phaseRunning electionPhase = iota
	phaseCompleted
	phaseTimedOut
)

// ongoing is one tracked election.
type ongoing struct {
	el         *election.Election
	started    Tick
	phase      electionPhase
	winner     ring.Peer
	finishedAt Tick
}

// Manager owns the peer table and the election schedule for one node.
// Safe for concurrent use; the transport delivers messages from
// connection goroutines while the host drives Tick.
type Manager struct {
	mu sync.Mutex

	self   ring.Peer
	cfg    Config
	prover *tokens.Prover

	peers  map[ring.Peer]*peerInfo
	active []ring.Peer // sorted addresses of Connected peers

	budgets   []int
	elections map[ring.Token]*ongoing
	samples   *sampleSet

	rng          *rand.Rand
	nextElection Tick
}

// NewManager creates a manager for the local address. The prover
// answers incoming queries and signs invitations from the local token
// store. seed seeds challenge selection; pass anything (the clock, a
// random value) — it only has to vary between runs.
func NewManager(self ring.Peer, prover *tokens.Prover, cfg Config, seed int64) *Manager {
	return &Manager{
		self:      self,
		cfg:       cfg,
		prover:    prover,
		peers:     make(map[ring.Peer]*peerInfo),
		budgets:   allocateBudgets(cfg.TotalBudget, ring.NumClasses),
		elections: make(map[ring.Token]*ongoing),
		samples:   newSampleSet(self, cfg.MaxSamplesPerClass),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Self returns the local ring address.
func (m *Manager) Self() ring.Peer {
	return m.self
}

// ConnectedCount returns the number of Connected peers.
func (m *Manager) ConnectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}

// KnownCount returns the number of peers in any state.
func (m *Manager) KnownCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.peers)
}

// ClassBudget returns the connection budget of one distance class.
func (m *Manager) ClassBudget(class int) int {
	if class < 0 || class >= len(m.budgets) {
		return 0
	}

	return m.budgets[class]
}

// SampleCount returns the number of sampled discovery tokens.
func (m *Manager) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.samples.len()
}

// AddSeedPeer connects a bootstrap peer directly, skipping the
// election handshake. Seeds come from configuration, not discovery.
func (m *Manager) AddSeedPeer(peer ring.Peer, now Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if peer == m.self {
		return
	}

	if _, known := m.peers[peer]; known {
		return
	}

	m.peers[peer] = &peerInfo{
		id:             peer,
		state:          stateConnected,
		connectedSince: now,
		lastKeepalive:  now,
		quality:        1.0,
	}
	m.insertActive(peer)
	m.samples.add(peer)

	logger.Info("seed peer connected", "peer", peer)
}

// AddIdentified records a discovered peer. Returns false if the peer
// is already known, is the local node, or the table is full.
func (m *Manager) AddIdentified(peer ring.Peer, now Tick) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.addIdentified(peer, now)
}

// UpdateKeepalive refreshes a Connected peer's liveness.
func (m *Manager) UpdateKeepalive(peer ring.Peer, now Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.peers[peer]; ok && p.state == stateConnected {
		p.lastKeepalive = now
	}
}

// StartElection begins an election for a challenge token and returns
// the queries to send. A token with a live or cached election is left
// alone.
func (m *Manager) StartElection(token ring.Token, now Tick) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.startElection(token, now)
}

// HandleQuery responds to an incoming proof-of-storage query: an
// answer when the local store can prove the token, a referral toward
// the two closest known peers otherwise, nothing when the node knows
// no one better.
func (m *Manager) HandleQuery(token ring.Token, ticket election.Ticket, from ring.Peer, now Tick) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch(from, now)

	answer, sig, ok, err := m.prover.Sign(token, from)
	if err != nil {
		logger.Error("prover failed", "token", token, "error", err)
		return nil
	}

	if ok {
		return []Action{{
			Kind:      SendAnswer,
			Receiver:  from,
			Ticket:    ticket,
			Answer:    answer,
			Signature: sig,
		}}
	}

	closest := m.closestPeers(token, 2, from)
	if len(closest) < 2 {
		return nil
	}

	return []Action{{
		Kind:      SendReferral,
		Receiver:  from,
		Token:     token,
		Ticket:    ticket,
		Suggested: [2]ring.Peer{closest[0], closest[1]},
	}}
}

// HandleAnswer feeds an incoming answer to the election it belongs to.
// A zero ticket marks an invitation instead and is routed to the
// connection handshake. Either way the answer's tokens are sampled for
// discovery.
func (m *Manager) HandleAnswer(ticket election.Ticket, answer proof.Mapping, sig proof.Signature, from ring.Peer, now Tick) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ticket == 0 {
		return m.handleInvitation(answer, sig, from, now)
	}

	m.touch(from, now)
	m.samples.addFromAnswer(answer, sig)

	o, ok := m.elections[answer.Token]
	if !ok || o.phase != phaseRunning {
		return nil
	}

	if err := o.el.HandleAnswer(ticket, answer, sig, from); err != nil {
		logger.Debug("answer rejected", "token", answer.Token, "peer", from, "error", err)
	}

	return nil
}

// HandleReferral chases a referral: the declined channel dies and a
// new one opens toward whichever suggested peer sits closer to the
// challenge. Both suggestions enter the peer table as Identified.
func (m *Manager) HandleReferral(ticket election.Ticket, token ring.Token, suggested [2]ring.Peer, from ring.Peer, now Tick) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch(from, now)

	o, ok := m.elections[token]
	if !ok || o.phase != phaseRunning {
		return nil
	}

	next, err := o.el.HandleReferral(ticket, token, suggested, from)
	if err != nil {
		logger.Debug("referral rejected", "token", token, "peer", from, "error", err)
		return nil
	}

	m.samples.add(suggested[0])
	m.samples.add(suggested[1])
	m.addIdentified(suggested[0], now)
	m.addIdentified(suggested[1], now)

	// Discovery may route through peers we are not connected to; the
	// ticket, not the connection, is what makes the route trustworthy.
	newTicket, err := o.el.CreateChannel(next)
	if err != nil {
		logger.Debug("referral chase stopped", "token", token, "next", next, "error", err)
		return nil
	}

	return []Action{{
		Kind:     SendQuery,
		Receiver: next,
		Token:    token,
		Ticket:   newTicket,
	}}
}

// Tick advances the logical clock: demotes timed-out peers, settles
// running elections, expires cached ones and starts the next election
// when the interval is up. Returns the messages to send.
func (m *Manager) Tick(now Tick) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detectPendingTimeouts(now)
	m.detectConnectionTimeouts(now)

	actions := m.processElections(now)
	m.cleanupElections(now)

	if now >= m.nextElection {
		actions = append(actions, m.triggerNextElection(now)...)
		m.nextElection = now + m.cfg.ElectionInterval
	}

	return actions
}

// handleInvitation processes an answer with a zero ticket: a
// connection offer. The proof must be about the sender's own address
// and aimed at us; a valid one connects the peer, and if we never
// invited them, we reciprocate so both sides converge.
func (m *Manager) handleInvitation(answer proof.Mapping, sig proof.Signature, from ring.Peer, now Tick) []Action {
	if answer.Token != from {
		logger.Debug("invitation about foreign address", "peer", from, "token", answer.Token)
		return nil
	}

	if err := proof.Verify(from, answer.Block, m.self, sig); err != nil {
		logger.Debug("invitation proof rejected", "peer", from, "error", err)
		return nil
	}

	m.samples.addFromAnswer(answer, sig)

	p, known := m.peers[from]
	if known && p.state == stateConnected {
		p.lastKeepalive = now
		return nil
	}

	invited := known && p.state == statePending

	if !known {
		if !m.addIdentified(from, now) {
			return nil
		}
	}

	m.promoteToConnected(from, now)

	if invited {
		// The reciprocal half of our own invitation; nothing to send.
		return nil
	}

	return m.invitation(from)
}

// invitation builds a SendInvitation action proving our own address to
// the receiver. An empty slice means the local store cannot prove it
// yet; the connection stands either way.
func (m *Manager) invitation(to ring.Peer) []Action {
	answer, sig, ok, err := m.prover.Sign(m.self, to)
	if err != nil {
		logger.Error("prover failed for invitation", "peer", to, "error", err)
		return nil
	}
	if !ok {
		logger.Warn("token store too sparse to prove own address", "peer", to)
		return nil
	}

	return []Action{{
		Kind:      SendInvitation,
		Receiver:  to,
		Answer:    answer,
		Signature: sig,
	}}
}

// startElection requires the caller to hold the lock.
func (m *Manager) startElection(token ring.Token, now Tick) []Action {
	if _, exists := m.elections[token]; exists {
		return nil
	}

	el, err := election.New(token, m.self, m.cfg.Election)
	if err != nil {
		logger.Error("election creation failed", "token", token, "error", err)
		return nil
	}

	m.elections[token] = &ongoing{el: el, started: now, phase: phaseRunning}
	logger.Debug("election started", "token", token)

	return m.spawnChannels(token)
}

// spawnChannels opens query channels for an election toward the
// challenge address itself and the closest known peers. Querying the
// challenge directly pays off whenever it is a peer address: the owner
// answers immediately.
func (m *Manager) spawnChannels(token ring.Token) []Action {
	o, ok := m.elections[token]
	if !ok {
		return nil
	}

	candidates := append([]ring.Peer{token}, m.closestPeers(token, m.cfg.ChannelCandidates)...)

	var actions []Action
	for _, hop := range candidates {
		if len(actions) >= m.cfg.ElectionChannels {
			break
		}

		ticket, err := o.el.CreateChannel(hop)
		if err != nil {
			continue
		}

		actions = append(actions, Action{
			Kind:     SendQuery,
			Receiver: hop,
			Token:    token,
			Ticket:   ticket,
		})
	}

	return actions
}

// processElections settles every running election that has collected
// long enough: completes winners, widens split brains and times out
// the rest.
func (m *Manager) processElections(now Tick) []Action {
	var actions []Action

	for token, o := range m.elections {
		if o.phase != phaseRunning {
			continue
		}

		elapsed := now - o.started
		if elapsed < m.cfg.MinCollectionTime {
			continue
		}

		res := o.el.CheckForWinner()
		switch res.Verdict {
		case election.Single:
			o.phase = phaseCompleted
			o.winner = res.Winner
			o.finishedAt = now
			logger.Info("election won", "token", token, "winner", res.Winner,
				"cluster", len(res.Cluster.Members))
			actions = append(actions, m.handleWin(token, res.Winner, now)...)

		case election.SplitBrain:
			if elapsed < m.cfg.ElectionTimeout && o.el.CanCreateChannel() {
				// Disagreement this early is worth more evidence.
				logger.Warn("split brain, widening election", "token", token,
					"top", len(res.Cluster.Members), "rival", len(res.Rival.Members))
				actions = append(actions, m.spawnChannels(token)...)
			} else {
				o.phase = phaseTimedOut
				o.finishedAt = now
				logger.Warn("election abandoned on split brain", "token", token)
			}

		case election.NoConsensus:
			if elapsed >= m.cfg.ElectionTimeout {
				o.phase = phaseTimedOut
				o.finishedAt = now
				logger.Debug("election timed out", "token", token,
					"responses", o.el.ValidResponseCount())
			}
		}
	}

	return actions
}

// handleWin folds an election result into the peer table: known
// connected winners gain quality, everyone else gets invited.
func (m *Manager) handleWin(token ring.Token, winner ring.Peer, now Tick) []Action {
	if winner == m.self {
		return nil
	}

	var actions []Action

	p, known := m.peers[winner]
	switch {
	case known && p.state == stateConnected:
		p.wins++
		p.attempts++
		p.quality = m.cfg.QualityAlpha + (1-m.cfg.QualityAlpha)*p.quality

	case known && p.state == stateIdentified:
		m.promoteToPending(winner, token, now)
		actions = m.invitation(winner)

	case !known:
		if m.addIdentified(winner, now) {
			m.promoteToPending(winner, token, now)
			actions = m.invitation(winner)
		}
	}

	if len(m.active) > m.cfg.TotalBudget {
		m.evictWorst(now)
	}

	return actions
}

// triggerNextElection picks the next challenge: half the time a token
// near an existing connection (re-election), half the time a discovery
// token.
func (m *Manager) triggerNextElection(now Tick) []Action {
	var token ring.Token

	if m.rng.Intn(2) == 0 && len(m.active) > 0 {
		peer := m.active[m.rng.Intn(len(m.active))]
		token = m.pickTokenNearPeer(peer)
	} else {
		token = m.pickChallengeToken()
	}

	return m.startElection(token, now)
}

// pickChallengeToken chooses where to aim a discovery election.
// Peer addresses are preferred since their owners always answer;
// otherwise sampled tokens fill coverage gaps class by class.
func (m *Manager) pickChallengeToken() ring.Token {
	if len(m.peers) > 0 && m.rng.Float64() < 0.8 {
		ids := make([]ring.Peer, 0, len(m.peers))
		for id := range m.peers {
			ids = append(ids, id)
		}

		return ids[m.rng.Intn(len(ids))]
	}

	// Fill underrepresented close classes first to keep the density
	// gradient around the local address.
	for class := 0; class < ring.NumClasses; class++ {
		n := m.samples.classLen(class)
		if n > 0 && n < m.cfg.MaxSamplesPerClass/2 {
			if token, ok := m.samples.pickFromClass(m.rng, class); ok {
				return token
			}
		}
	}

	for class := 0; class < ring.NumClasses; class++ {
		if token, ok := m.samples.pickFromClass(m.rng, class); ok {
			weight := 1.0 / float64(class+1)
			if m.rng.Float64() < min(weight, 0.8) {
				return token
			}
		}
	}

	if token, ok := m.samples.pickRandom(m.rng); ok {
		return token
	}

	return ring.Token(m.rng.Uint64())
}

// pickTokenNearPeer chooses a challenge that a specific peer should be
// able to answer, to re-verify it.
func (m *Manager) pickTokenNearPeer(peer ring.Peer) ring.Token {
	class := ring.DistanceClass(m.self, peer)

	if m.rng.Float64() < 0.7 {
		if token, ok := m.samples.pickFromClass(m.rng, class); ok {
			return token
		}
	}

	return peer + ring.Token(m.rng.Intn(1000))
}

// closestPeers returns up to n known peers nearest the target,
// excluding the local node and any listed addresses.
func (m *Manager) closestPeers(target ring.Token, n int, exclude ...ring.Peer) []ring.Peer {
	out := make([]ring.Peer, 0, len(m.peers))

next:
	for id := range m.peers {
		if id == m.self {
			continue
		}
		for _, ex := range exclude {
			if id == ex {
				continue next
			}
		}

		out = append(out, id)
	}

	sort.Slice(out, func(a, b int) bool { return ring.Closer(target, out[a], out[b]) })

	if len(out) > n {
		out = out[:n]
	}

	return out
}

// addIdentified requires the caller to hold the lock.
func (m *Manager) addIdentified(peer ring.Peer, now Tick) bool {
	if peer == m.self {
		return false
	}

	if _, known := m.peers[peer]; known {
		return false
	}

	if len(m.peers) >= m.cfg.MaxKnownPeers {
		return false
	}

	m.peers[peer] = &peerInfo{id: peer, state: stateIdentified, discoveredAt: now}
	m.samples.add(peer)

	return true
}

// promoteToPending moves an Identified peer to Pending after we send
// it an invitation.
func (m *Manager) promoteToPending(peer ring.Peer, fromElection ring.Token, now Tick) bool {
	p, ok := m.peers[peer]
	if !ok || p.state != stateIdentified {
		return false
	}

	p.state = statePending
	p.invitationSentAt = now
	p.fromElection = fromElection

	return true
}

// promoteToConnected completes the invitation handshake.
func (m *Manager) promoteToConnected(peer ring.Peer, now Tick) bool {
	p, ok := m.peers[peer]
	if !ok || p.state == stateConnected {
		return false
	}

	p.state = stateConnected
	p.connectedSince = now
	p.lastKeepalive = now
	p.quality = 1.0
	m.insertActive(peer)

	logger.Info("peer connected", "peer", peer, "connected", len(m.active))

	return true
}

// demoteConnected drops a Connected peer back to Identified.
func (m *Manager) demoteConnected(peer ring.Peer, now Tick) bool {
	p, ok := m.peers[peer]
	if !ok || p.state != stateConnected {
		return false
	}

	p.state = stateIdentified
	p.discoveredAt = now
	m.removeActive(peer)

	logger.Info("peer disconnected", "peer", peer, "connected", len(m.active))

	return true
}

// demoteToIdentified drops a Pending peer whose invitation expired.
func (m *Manager) demoteToIdentified(peer ring.Peer, now Tick) bool {
	p, ok := m.peers[peer]
	if !ok || p.state != statePending {
		return false
	}

	p.state = stateIdentified
	p.discoveredAt = now

	return true
}

// touch refreshes liveness for any message from a connected peer.
func (m *Manager) touch(peer ring.Peer, now Tick) {
	if p, ok := m.peers[peer]; ok && p.state == stateConnected {
		p.lastKeepalive = now
	}
}

// detectPendingTimeouts demotes Pending peers past the invitation
// deadline.
func (m *Manager) detectPendingTimeouts(now Tick) {
	for id, p := range m.peers {
		if p.state == statePending && now-p.invitationSentAt >= m.cfg.PendingTimeout {
			m.demoteToIdentified(id, now)
		}
	}
}

// detectConnectionTimeouts demotes Connected peers without recent
// keepalives.
func (m *Manager) detectConnectionTimeouts(now Tick) {
	for id, p := range m.peers {
		if p.state == stateConnected && now-p.lastKeepalive >= m.cfg.ConnectionTimeout {
			m.demoteConnected(id, now)
		}
	}
}

// cleanupElections drops finished elections past the cache TTL and
// running ones the settlement loop will never revisit.
func (m *Manager) cleanupElections(now Tick) {
	for token, o := range m.elections {
		var expired bool
		switch o.phase {
		case phaseRunning:
			expired = now-o.started >= m.cfg.ElectionTimeout+m.cfg.ElectionCacheTTL
		default:
			expired = now-o.finishedAt >= m.cfg.ElectionCacheTTL
		}

		if expired {
			delete(m.elections, token)
		}
	}
}

// evictWorst disconnects the lowest-quality Connected peer.
func (m *Manager) evictWorst(now Tick) {
	var worst ring.Peer
	worstQuality := 2.0
	found := false

	for _, id := range m.active {
		p := m.peers[id]
		if p.quality < worstQuality {
			worst = id
			worstQuality = p.quality
			found = true
		}
	}

	if found {
		logger.Info("evicting peer over budget", "peer", worst, "quality", worstQuality)
		m.demoteConnected(worst, now)
	}
}

// insertActive keeps the active slice sorted by address.
func (m *Manager) insertActive(peer ring.Peer) {
	idx := sort.Search(len(m.active), func(i int) bool { return m.active[i] >= peer })
	if idx < len(m.active) && m.active[idx] == peer {
		return
	}

	m.active = append(m.active, 0)
	copy(m.active[idx+1:], m.active[idx:])
	m.active[idx] = peer
}

// removeActive drops a peer from the active slice.
func (m *Manager) removeActive(peer ring.Peer) {
	idx := sort.Search(len(m.active), func(i int) bool { return m.active[i] >= peer })
	if idx < len(m.active) && m.active[idx] == peer {
		m.active = append(m.active[:idx], m.active[idx+1:]...)
	}
}

// allocateBudgets spreads the connection budget over the distance
// classes with an exponential gradient favoring close classes.
func allocateBudgets(total, classes int) []int {
	if classes == 0 {
		return nil
	}

	weights := make([]float64, classes)
	var sum float64
	for i := range weights {
		weights[i] = math.Pow(2, -float64(i)/4)
		sum += weights[i]
	}

	budgets := make([]int, classes)
	allocated := 0
	for i, w := range weights {
		budgets[i] = int(w/sum*float64(total) + 0.5)
		allocated += budgets[i]
	}

	// Rounding drift lands on the edge classes.
	if allocated < total {
		budgets[0] += total - allocated
	} else if allocated > total {
		excess := allocated - total
		for i := classes - 1; i >= 0; i-- {
			if budgets[i] >= excess {
				budgets[i] -= excess
				break
			}
		}
	}

	return budgets
}
