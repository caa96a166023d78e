package engine

import (
	"time"

	"github.com/hailam/chessplay/internal/board"
)

// Clock mode fractions for the per-move time budget.
const (
	baseFraction  = 0.05 // fraction of remaining time treated as one move's share
	incFraction   = 0.75 // fraction of the increment folded into that share
	softMultiple  = 0.6  // soft_stop = base * softMultiple
	hardMultiple  = 2.0  // hard_stop = base * hardMultiple
	maxPerMoveFrac = 0.5 // neither deadline may exceed this fraction of time_remaining

	// CheckFreq is how often (in nodes) the search polls the stop flag and
	// the hard deadline, matching the original's
	// CHECK_TERMINATION_NODE_FREQUENCY.
	CheckFreq = 4096
)

// ClockMode selects which inputs the time manager converts into deadlines.
type ClockMode int

const (
	ModeInfinite  ClockMode = iota // search until `stop`
	ModeDepth                      // search to a fixed depth, ignoring the clock
	ModeMoveTime                   // search for exactly UCILimits.MoveTime
	ModeClock                      // convert wtime/btime/winc/binc/movestogo
)

// UCILimits contains UCI time control parameters as parsed from `go`.
type UCILimits struct {
	Time      [2]time.Duration // wtime, btime: remaining time for each color
	Inc       [2]time.Duration // winc, binc: increment per move
	MovesToGo int              // moves until next time control (0 = sudden death)
	MoveTime  time.Duration    // fixed time per move (overrides other time controls)
	Depth     int              // maximum search depth
	Nodes     uint64           // `go nodes` value; the search does not stop on it
	Infinite  bool             // search until stopped
}

// TimeManager converts a UCI time control into soft/hard deadlines and
// answers the two policy questions the iterative-deepening driver polls:
// whether to begin another depth, and whether to abort the one in progress.
type TimeManager struct {
	mode      ClockMode
	startTime time.Time

	softStop time.Duration
	hardStop time.Duration
	moveTime time.Duration
	depthCap int

	// MoveOverhead is the `Move Overhead` UCI option: a safety margin
	// subtracted from the clock before any other computation, so a
	// near-flagged clock can never produce a negative budget.
	MoveOverhead time.Duration

	// Stop is the cooperative stop flag shared with the UCI thread (§5).
	Stop *StopFlag
}

// NewTimeManager creates a time manager sharing the given stop flag.
func NewTimeManager(stop *StopFlag) *TimeManager {
	return &TimeManager{Stop: stop}
}

// Init computes soft_stop/hard_stop (or the depth/move-time/infinite
// equivalents) for a new search, starting the elapsed-time clock now.
func (tm *TimeManager) Init(limits UCILimits, us board.Color, ply int) {
	tm.startTime = time.Now()
	tm.depthCap = limits.Depth

	switch {
	case limits.MoveTime > 0:
		tm.mode = ModeMoveTime
		tm.moveTime = limits.MoveTime
	case limits.Infinite || limits.Time[us] == 0:
		tm.mode = ModeInfinite
		if limits.Depth > 0 {
			tm.mode = ModeDepth
		}
	default:
		tm.mode = ModeClock
		tm.computeClockDeadlines(limits, us)
	}
}

// computeClockDeadlines implements spec §4.7's literal formulas:
//
//	time_remaining = max(my_clock - overhead, overhead)
//	base = moves_to_go ? time_remaining/moves_to_go : time_remaining*BASE_FRAC, plus increment*INC_FRAC
//	soft_stop = min(base*SOFT_MUL, time_remaining*MAX_PER_MOVE)
//	hard_stop = min(base*HARD_MUL, time_remaining*MAX_PER_MOVE)
func (tm *TimeManager) computeClockDeadlines(limits UCILimits, us board.Color) {
	overhead := tm.MoveOverhead
	timeRemaining := limits.Time[us] - overhead
	if timeRemaining < overhead {
		timeRemaining = overhead
	}

	var base time.Duration
	if limits.MovesToGo > 0 {
		base = timeRemaining / time.Duration(limits.MovesToGo)
	} else {
		base = time.Duration(float64(timeRemaining) * baseFraction)
	}
	base += time.Duration(float64(limits.Inc[us]) * incFraction)

	maxPerMove := time.Duration(float64(timeRemaining) * maxPerMoveFrac)

	soft := time.Duration(float64(base) * softMultiple)
	if soft > maxPerMove {
		soft = maxPerMove
	}
	hard := time.Duration(float64(base) * hardMultiple)
	if hard > maxPerMove {
		hard = maxPerMove
	}

	tm.softStop = soft
	tm.hardStop = hard
}

// Elapsed returns the time elapsed since Init.
func (tm *TimeManager) Elapsed() time.Duration {
	return time.Since(tm.startTime)
}

// ShouldStartNewIteration decides whether iterative deepening should begin
// another depth. Depth 1 always runs; a clock-mode search requires
// elapsed < soft_stop; exact-move-time requires elapsed < move_time;
// depth mode requires depth <= the configured limit; infinite mode always
// continues (until the stop flag fires externally).
func (tm *TimeManager) ShouldStartNewIteration(depth int) bool {
	if depth <= 1 {
		return true
	}
	if tm.Stop != nil && tm.Stop.IsSet() {
		return false
	}
	switch tm.mode {
	case ModeClock:
		return tm.Elapsed() < tm.softStop
	case ModeMoveTime:
		return tm.Elapsed() < tm.moveTime
	case ModeDepth:
		return depth <= tm.depthCap
	default: // ModeInfinite
		return true
	}
}

// ShouldStopNow is polled every CheckFreq nodes inside the search: true if
// the external stop flag is set, or (in clock/move-time mode) the hard
// deadline has elapsed.
func (tm *TimeManager) ShouldStopNow() bool {
	if tm.Stop != nil && tm.Stop.IsSet() {
		return true
	}
	switch tm.mode {
	case ModeClock:
		return tm.Elapsed() > tm.hardStop
	case ModeMoveTime:
		return tm.Elapsed() > tm.moveTime
	default:
		return false
	}
}

// SoftStop and HardStop expose the computed deadlines, mainly for tests and
// UCI diagnostics (`info string`).
func (tm *TimeManager) SoftStop() time.Duration { return tm.softStop }
func (tm *TimeManager) HardStop() time.Duration { return tm.hardStop }
