// Package lottery owns the cross-connection state of one lottery cycle: the
// per-agency completion set, the parked winners queries, the result gate and
// the exactly-once winners computation.
package lottery

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lotteryd/internal/protocol"
	"github.com/danmuck/lotteryd/internal/protocol/frame"
	"github.com/danmuck/lotteryd/internal/store"
)

// QueryConn is the slice of a connection the coordinator needs once a
// handler hands a parked winners query over: write the response, then close.
type QueryConn interface {
	io.Writer
	Close() error
}

type Config struct {
	// AgencyCount is the statically known number of agencies. The barrier
	// fires when this many agencies have both completed and queried.
	AgencyCount int
	// ServerID stamps the sender byte of every outgoing frame.
	ServerID uint8
	// WinningNumber is the drawn number; zero selects DefaultWinningNumber.
	WinningNumber int
}

// Coordinator is shared by every connection handler. Two locks: storeMu
// serializes store appends against the scan-and-count step, mu guards the
// coordination maps and the result cache. They are never held together.
type Coordinator struct {
	cfg    Config
	store  store.Store
	limits frame.Limits

	storeMu sync.Mutex

	mu        sync.Mutex
	completed map[uint8]struct{}
	pending   map[uint8]QueryConn
	ready     chan struct{} // closed once the current round's results are cached
	results   map[uint8]int
	round     uuid.UUID
	gen       uint64 // bumped on every bet arrival; stale rounds must not cache
}

func New(cfg Config, st store.Store) *Coordinator {
	if cfg.WinningNumber == 0 {
		cfg.WinningNumber = DefaultWinningNumber
	}
	return &Coordinator{
		cfg:       cfg,
		store:     st,
		limits:    frame.DefaultLimits(),
		completed: make(map[uint8]struct{}),
		pending:   make(map[uint8]QueryConn),
		ready:     make(chan struct{}),
	}
}

// AppendBets persists a batch under the store lock and re-opens the round
// for the sending agency: its completion flag is cleared and any cached
// result is invalidated. An empty batch skips the store but still clears
// the flag.
func (c *Coordinator) AppendBets(agency uint8, bets []protocol.Bet) error {
	if len(bets) > 0 {
		c.storeMu.Lock()
		err := c.store.Append(bets)
		c.storeMu.Unlock()
		if err != nil {
			return fmt.Errorf("lottery: append bets: %w", err)
		}
	}

	c.mu.Lock()
	delete(c.completed, agency)
	c.gen++
	c.resetGateLocked()
	c.mu.Unlock()
	return nil
}

// MarkCompleted records the agency's end-of-transmission and fires the
// winners computation when the barrier condition is met.
func (c *Coordinator) MarkCompleted(agency uint8) {
	c.mu.Lock()
	c.completed[agency] = struct{}{}
	round, fire := c.takeRoundLocked()
	c.mu.Unlock()

	if fire {
		c.runLottery(round)
	}
}

// RegisterQuery takes ownership of conn. If results for the current round
// are already cached the query is answered and closed immediately;
// otherwise the connection is parked until the barrier fires (an earlier
// parked query from the same agency gets closed unanswered and replaced).
func (c *Coordinator) RegisterQuery(agency uint8, conn QueryConn) {
	c.mu.Lock()
	select {
	case <-c.ready:
		count := c.results[agency]
		round := c.round
		c.mu.Unlock()
		c.answer(round, agency, conn, count)
		return
	default:
	}

	if prev, ok := c.pending[agency]; ok {
		log.Warn().
			Uint8("agency", agency).
			Msg("replacing parked winners query")
		prev.Close()
	}
	c.pending[agency] = conn

	round, fire := c.takeRoundLocked()
	c.mu.Unlock()

	if fire {
		c.runLottery(round)
	}
}

// ReadyGate returns the channel closed when the current round's results are
// cached. A new betting round replaces the channel.
func (c *Coordinator) ReadyGate() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Results returns the cached per-agency counts of the last computed round,
// or ok=false when no round has completed since the last bet activity.
func (c *Coordinator) Results() (uuid.UUID, map[uint8]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ready:
	default:
		return uuid.Nil, nil, false
	}
	out := make(map[uint8]int, len(c.results))
	for id, n := range c.results {
		out[id] = n
	}
	return c.round, out, true
}

// Shutdown closes every parked query connection without a response.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for agency, conn := range c.pending {
		conn.Close()
		delete(c.pending, agency)
	}
}

// resetGateLocked re-arms the gate after a computed round so the next cycle
// starts fresh. No-op while a round is still in progress.
func (c *Coordinator) resetGateLocked() {
	select {
	case <-c.ready:
		c.ready = make(chan struct{})
		c.results = nil
	default:
	}
}

// roundState is the snapshot the single barrier winner carries out of the
// lock: the agencies to answer and the flags to restore on store failure.
type roundState struct {
	id        uuid.UUID
	gen       uint64
	pending   map[uint8]QueryConn
	completed map[uint8]struct{}
}

// takeRoundLocked is the exactly-once transition. When every agency has
// both completed and parked a query, the maps are swapped out atomically,
// so a racing handler observing the same condition finds them empty and
// does nothing.
func (c *Coordinator) takeRoundLocked() (roundState, bool) {
	if c.cfg.AgencyCount <= 0 ||
		len(c.completed) != c.cfg.AgencyCount ||
		len(c.pending) != c.cfg.AgencyCount {
		return roundState{}, false
	}
	r := roundState{id: uuid.New(), gen: c.gen, pending: c.pending, completed: c.completed}
	c.pending = make(map[uint8]QueryConn)
	c.completed = make(map[uint8]struct{})
	return r, true
}

// runLottery scans the store under the store lock, counts winners for the
// round's agencies, caches the result and answers every parked query. On a
// store failure nothing is answered and the round is put back so a later
// retry can fire again.
func (c *Coordinator) runLottery(r roundState) {
	log.Info().
		Str("action", "lottery").
		Str("result", "in_progress").
		Str("round", r.id.String()).
		Msg("barrier met, computing winners")

	c.storeMu.Lock()
	bets, err := c.store.ScanAll()
	c.storeMu.Unlock()
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "lottery").
			Str("result", "fail").
			Str("round", r.id.String()).
			Msg("store scan failed, queries stay parked")
		c.restoreRound(r)
		return
	}

	counts := make(map[uint8]int, len(r.pending))
	for agency := range r.pending {
		counts[agency] = 0
	}
	for _, bet := range bets {
		if _, ok := counts[bet.Agency]; ok && HasWon(bet, c.cfg.WinningNumber) {
			counts[bet.Agency]++
		}
	}

	c.mu.Lock()
	// A bet that slipped in after the barrier fired belongs to the next
	// round; its arrival must not leave these counts cached as current.
	if c.gen == r.gen {
		c.results = counts
		c.round = r.id
		close(c.ready)
	}
	c.mu.Unlock()

	log.Info().
		Str("action", "lottery").
		Str("result", "success").
		Str("round", r.id.String()).
		Int("bets_scanned", len(bets)).
		Msg("winners computed")

	for agency, conn := range r.pending {
		c.answer(r.id, agency, conn, counts[agency])
	}
}

// restoreRound puts a failed round's flags and parked queries back.
func (c *Coordinator) restoreRound(r roundState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for agency := range r.completed {
		c.completed[agency] = struct{}{}
	}
	for agency, conn := range r.pending {
		if prev, ok := c.pending[agency]; ok {
			prev.Close()
		}
		c.pending[agency] = conn
	}
}

func (c *Coordinator) answer(round uuid.UUID, agency uint8, conn QueryConn, count int) {
	defer conn.Close()
	f := frame.Frame{
		Sender:  c.cfg.ServerID,
		Type:    uint8(protocol.MsgWinnersResponse),
		Payload: []byte(strconv.Itoa(count)),
	}
	if err := frame.WriteFrame(conn, f, c.limits); err != nil {
		log.Warn().
			Err(err).
			Uint8("agency", agency).
			Str("round", round.String()).
			Msg("write winners response")
		return
	}
	log.Info().
		Str("action", "winners_sent").
		Str("result", "success").
		Uint8("agency", agency).
		Int("winners", count).
		Str("round", round.String()).
		Msg("winners response delivered")
}
