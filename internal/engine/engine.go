package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/nnue"
	"github.com/hailam/chessplay/internal/tablebase"
)

// StopFlag is the cooperative cancellation signal shared between the UCI
// goroutine handling `stop`/`quit` and the single search goroutine. Relaxed
// atomic ordering is sufficient: the search only needs to observe the flag
// within one CheckFreq-node window, never synchronize data through it.
type StopFlag struct {
	v atomic.Bool
}

// Set requests the in-progress search to abort as soon as it next polls.
func (f *StopFlag) Set() { f.v.Store(true) }

// Clear readies the flag for a new search.
func (f *StopFlag) Clear() { f.v.Store(false) }

// IsSet reports whether a stop has been requested.
func (f *StopFlag) IsSet() bool { return f.v.Load() }

const defaultTTSizeMB = 256

// Engine drives one single-threaded search at a time: parse UCI limits,
// run iterative deepening, answer `stop`. Per spec §5 the engine never
// splits a search across goroutines (Threads is fixed at 1); the only
// concurrency is the UCI command loop running alongside the search
// goroutine it spawned, coordinated entirely through StopFlag.
type Engine struct {
	tt       *TranspositionTable
	searcher *Searcher
	stop     StopFlag

	nnue *nnue.Evaluator
	tb   tablebase.Prober

	moveOverhead     time.Duration
	syzygyProbeDepth int

	rootHistory []uint64

	searching atomic.Bool
}

// NewEngine creates an engine with a transposition table sized to ttSizeMB
// megabytes (rounded down to a power of two entries).
func NewEngine(ttSizeMB int) *Engine {
	if ttSizeMB <= 0 {
		ttSizeMB = defaultTTSizeMB
	}
	e := &Engine{
		tt: NewTranspositionTable(ttSizeMB),
		tb: tablebase.NoopProber{},
	}
	e.searcher = NewSearcher(e.tt, &e.stop)
	return e
}

// SetHashSize resizes the transposition table, matching UCI's
// `setoption name Hash value N`.
func (e *Engine) SetHashSize(mb int) {
	e.tt.Resize(mb)
}

// SetMoveOverhead sets the safety margin subtracted from the clock before
// any time-management arithmetic, matching `setoption name Move Overhead`.
func (e *Engine) SetMoveOverhead(d time.Duration) {
	e.moveOverhead = d
	e.searcher.timeman.MoveOverhead = d
}

// LoadNNUE loads network weights from a single file, matching `setoption
// name EvalFile`. An empty path clears the network back to the HCE
// fallback (§9 Open Question: NNUE and HCE are never blended).
func (e *Engine) LoadNNUE(path string) error {
	if path == "" {
		e.nnue = nil
		e.searcher.SetNNUE(nil)
		return nil
	}
	ev, err := nnue.NewEvaluator(path)
	if err != nil {
		return fmt.Errorf("loading NNUE weights: %w", err)
	}
	e.nnue = ev
	e.searcher.SetNNUE(ev)
	return nil
}

// HasNNUE reports whether a network is currently loaded.
func (e *Engine) HasNNUE() bool {
	return e.nnue != nil
}

// SetTablebase installs a tablebase prober, matching `setoption name
// SyzygyPath`. Pass tablebase.NoopProber{} to disable probing.
func (e *Engine) SetTablebase(tb tablebase.Prober) {
	if tb == nil {
		tb = tablebase.NoopProber{}
	}
	e.tb = tb
}

// SetSyzygyProbeDepth records the `SyzygyProbeDepth` option value. Search
// does not consult it: the root tablebase probe is gated by piece count only.
func (e *Engine) SetSyzygyProbeDepth(d int) {
	e.syzygyProbeDepth = d
}

// SetPositionHistory records the Zobrist hashes of every position reached
// so far in the game (including the current one), used for repetition
// detection during search.
func (e *Engine) SetPositionHistory(hashes []uint64) {
	e.rootHistory = hashes
}

// Stop requests the in-progress search to abort and return its best move
// so far.
func (e *Engine) Stop() {
	e.stop.Set()
}

// Clear resets the transposition table, the correction history and the NNUE
// accumulator stack, matching `ucinewgame`. Killer and history tables are
// not touched here; each search's Reset handles them.
func (e *Engine) Clear() {
	e.tt.Clear()
	e.searcher.correction.Clear()
	if e.nnue != nil {
		e.nnue.Reset()
	}
}

// Evaluate returns the static evaluation of a position: the NNUE score when
// a network is loaded, otherwise the classical Evaluate.
func (e *Engine) Evaluate(pos *board.Position) int {
	if e.nnue != nil {
		e.nnue.Reset()
		e.nnue.Refresh(pos)
		return e.nnue.Evaluate(pos)
	}
	return Evaluate(pos)
}

// Perft counts leaf nodes at a fixed depth for move-generator validation.
func (e *Engine) Perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}
	moves := pos.GenerateLegalMoves()
	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		undo := pos.MakeMove(m)
		if undo.Valid {
			nodes += e.Perft(pos, depth-1)
		}
		pos.UnmakeMove(m, undo)
	}
	return nodes
}

// Search runs a single synchronous search to completion (depth limit, time
// limit, or an external Stop), returning the best move and its score. It
// first consults the tablebase as a black-box `wdl_or_bestmove` collaborator
// when the position has no more pieces than the tablebase covers; a hit
// short-circuits the search
// entirely.
func (e *Engine) Search(pos *board.Position, limits UCILimits, onInfo func(SearchInfo)) (board.Move, int) {
	e.searching.Store(true)
	defer e.searching.Store(false)
	e.stop.Clear()

	if e.tb.Available() && tablebase.CountPieces(pos) <= e.tb.MaxPieces() {
		if root := e.tb.ProbeRoot(pos); root.Found && root.Move != board.NoMove {
			score := tablebase.WDLToScore(root.WDL, 0)
			if onInfo != nil {
				onInfo(SearchInfo{Depth: 1, Score: score, PV: []board.Move{root.Move}})
			}
			return root.Move, score
		}
	}

	e.searcher.Reset(pos, e.rootHistory)
	e.searcher.OnInfo = onInfo
	return e.searcher.IterativeDeepening(limits, pos.SideToMove, 0)
}

// IsSearching reports whether a search is currently running.
func (e *Engine) IsSearching() bool {
	return e.searching.Load()
}

// ScoreToString renders a search score as a UCI `cp` or `mate` token.
func ScoreToString(score int) string {
	if score >= MateScore-MaxPly {
		pliesToMate := MateScore - score
		return fmt.Sprintf("mate %d", (pliesToMate+1)/2)
	}
	if score <= -MateScore+MaxPly {
		pliesToMate := MateScore + score
		return fmt.Sprintf("mate -%d", (pliesToMate+1)/2)
	}
	return fmt.Sprintf("cp %d", score)
}
