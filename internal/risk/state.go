package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// maxExecutionHistory bounds the in-memory execution ring the velocity
// check reads from (spec §4.5 state).
const maxExecutionHistory = 1000

// executionRecord is one completed order the gate remembers for
// velocity throttling and daily-loss accumulation.
type executionRecord struct {
	Symbol string
	Side   string
	PnL    decimal.Decimal
	At     time.Time
}

// state is the Risk Gate's single mutable structure (spec §4.5, §5 "global
// mutable state → confined state with a single writer"). C5 owns every
// field; the only external mutator is recordExecution, called by C6 on
// every completed order. Reads take a snapshot under the lock and release
// it before use so no task holds the lock across I/O.
type state struct {
	mu sync.Mutex

	executions     []executionRecord
	lastExecution  map[string]time.Time // keyed by ruleID, for cooldown
	dailyLoss      decimal.Decimal
	lastDailyReset time.Time // UTC date the daily counters last rolled over
}

func newState() *state {
	return &state{
		lastExecution:  make(map[string]time.Time),
		dailyLoss:      decimal.Zero,
		lastDailyReset: time.Now().UTC(),
	}
}

// snapshot is a point-in-time, lock-free copy of the fields the check
// pipeline needs, taken under the mutex once per gate call.
type snapshot struct {
	tradesLastHour int
	dailyLoss      decimal.Decimal
	lastExecution  map[string]time.Time
}

func (s *state) rolloverLocked(now time.Time) {
	today := now.UTC().Truncate(24 * time.Hour)
	last := s.lastDailyReset.UTC().Truncate(24 * time.Hour)
	if today.After(last) {
		s.dailyLoss = decimal.Zero
		s.lastDailyReset = now
	}
}

// snapshot takes a consistent read of the counters the checks need.
func (s *state) snapshot(now time.Time) snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(now)

	cutoff := now.Add(-1 * time.Hour)
	trades := 0
	for _, e := range s.executions {
		if e.At.After(cutoff) {
			trades++
		}
	}

	last := make(map[string]time.Time, len(s.lastExecution))
	for k, v := range s.lastExecution {
		last[k] = v
	}

	return snapshot{
		tradesLastHour: trades,
		dailyLoss:      s.dailyLoss,
		lastExecution:  last,
	}
}

// recordExecution is C6's mutator, called on every completed order
// (dry-run or live). It trims the ring to maxExecutionHistory and
// accumulates negative pnl into the daily-loss counter.
func (s *state) recordExecution(ruleID, symbol, side string, pnl decimal.Decimal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(at)

	s.executions = append(s.executions, executionRecord{Symbol: symbol, Side: side, PnL: pnl, At: at})
	if len(s.executions) > maxExecutionHistory {
		s.executions = s.executions[len(s.executions)-maxExecutionHistory:]
	}

	if ruleID != "" {
		s.lastExecution[ruleID] = at
	}
	if pnl.IsNegative() {
		s.dailyLoss = s.dailyLoss.Add(pnl)
	}
}

// markCooldown is used for intents the gate allows through but that did
// not (yet) record a pnl outcome — e.g. an approval just created — so a
// second identical rule doesn't fire again inside its cooldown window
// while the first trade is still pending a decision.
func (s *state) markCooldown(ruleID string, at time.Time) {
	if ruleID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastExecution[ruleID] = at
}
