package engine

import (
	"math"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/nnue"
)

// Search constants.
const (
	Infinity  = 30000
	MateScore = 29000
	MaxPly    = 128 // array sizing; the iterative-deepening loop itself caps at HardDepthCap

	HardDepthCap = 100 // spec §4.5: smallest of this, the UCI depth limit, or time

	aspMinDepth = 4  // depth below which aspiration search uses the full window
	aspWindow   = 25 // initial half-window width, in centipawns

	nullMoveMinDepth   = 3
	nullMoveReduction  = 3
	lmrStartMoveIndex  = 3
	seeQuietThreshold  = 0
	qsDeltaMargin      = 200
)

// PVTable stores the triangular principal-variation array: pv[ply] holds
// the continuation from that ply to the end of the line currently believed
// best, built bottom-up as each node records an exact improvement.
type PVTable struct {
	length [MaxPly]int
	moves  [MaxPly][MaxPly]board.Move
}

func (pv *PVTable) update(ply int, m board.Move) {
	pv.moves[ply][ply] = m
	for j := ply + 1; j < pv.length[ply+1]; j++ {
		pv.moves[ply][j] = pv.moves[ply+1][j]
	}
	pv.length[ply] = pv.length[ply+1]
}

// Line returns the best line found from the root.
func (pv *PVTable) Line() []board.Move {
	out := make([]board.Move, pv.length[0])
	copy(out, pv.moves[0][:pv.length[0]])
	return out
}

// lmrTable is the precomputed 64x64 late-move-reduction table: spec's
// floor(0.75 + ln(depth)*ln(move_index)/2.25), clamped to [0, depth-1] at
// the call site.
var lmrTable [64][64]int

func init() {
	for d := 1; d < 64; d++ {
		for m := 1; m < 64; m++ {
			r := 0.75 + math.Log(float64(d))*math.Log(float64(m))/2.25
			if r > 0 {
				lmrTable[d][m] = int(r)
			}
		}
	}
}

func lmrReduction(depth, moveIndex int) int {
	if depth >= 64 {
		depth = 63
	}
	if moveIndex >= 64 {
		moveIndex = 63
	}
	r := lmrTable[depth][moveIndex]
	if r > depth-1 {
		r = depth - 1
	}
	if r < 0 {
		r = 0
	}
	return r
}

// searchAborted names the case where the time manager or an external `stop`
// fires mid-search. negamax and quiescence report it through their boolean
// return value, not through this type; iterative deepening discards the
// partial result and reports the previous completed depth's move.
type searchAborted struct{}

// Searcher runs a single-threaded iterative-deepening alpha-beta search
// with aspiration windows, PVS, LMR, null-move pruning, quiescence, a
// transposition table and MVV-LVA/SEE/killer/history move ordering. It is
// single-threaded end to end, per spec §5: the only cross-thread signal it
// touches is the shared StopFlag.
type Searcher struct {
	pos *board.Position
	tt  *TranspositionTable

	orderer    *MoveOrderer
	nnue       *nnue.Evaluator // nil if no weight file was ever loaded
	pawnTable  *PawnTable
	correction *CorrectionHistory

	timeman *TimeManager
	Stop    *StopFlag

	nodes    uint64
	seldepth int
	pv       PVTable

	undoStack [MaxPly]board.UndoInfo
	history   []uint64 // root game history + search-stack hashes, by ply reached

	bestMoveStability int
	lastBestMove      board.Move

	// OnInfo is called after every completed iteration with the search's
	// current statistics, mirroring the UCI `info` line contract (§6).
	OnInfo func(SearchInfo)
}

// NewSearcher creates a searcher sharing the given transposition table.
func NewSearcher(tt *TranspositionTable, stop *StopFlag) *Searcher {
	return &Searcher{
		tt:         tt,
		orderer:    NewMoveOrderer(),
		pawnTable:  NewPawnTable(4),
		correction: NewCorrectionHistory(),
		Stop:       stop,
		timeman:    NewTimeManager(stop),
	}
}

// SetNNUE installs (or clears, with nil) the NNUE evaluator used for
// Evaluate. Per spec §9's Open Question, NNUE is the sole live evaluator
// when present; the classical evaluator in eval.go is used only as the
// bootstrap fallback when no network is loaded, through the identical
// eval(position) -> centipawns signature.
func (s *Searcher) SetNNUE(e *nnue.Evaluator) {
	s.nnue = e
}

// evaluate returns the static evaluation of the current position from the
// side to move's perspective, adjusted by the correction-history term the
// search has learned for this position: when a prior search at this node
// found the raw static eval was systematically off by some amount, that
// gap is folded back in here so null-move and quiescence stand-pat see the
// corrected figure. Grounded on Stockfish's correction-history technique
// (`correction.go`); applied uniformly to whichever evaluator is live.
func (s *Searcher) evaluate() int {
	return s.rawEvaluate() + s.correction.Get(s.pos)
}

// rawEvaluate is the uncorrected static evaluation, used both inside
// evaluate() and as the baseline correction.Update compares a search's
// backed-up score against.
func (s *Searcher) rawEvaluate() int {
	if s.nnue != nil {
		return s.nnue.Evaluate(s.pos)
	}
	return EvaluateWithPawnTable(s.pos, s.pawnTable)
}

// makeMove applies a move, keeping the NNUE accumulator stack and the
// repetition history slice in lockstep with the position.
func (s *Searcher) makeMove(ply int, m board.Move) board.UndoInfo {
	if s.nnue != nil {
		s.nnue.Push()
	}
	undo := s.pos.MakeMove(m)
	s.undoStack[ply] = undo
	if undo.Valid {
		if s.nnue != nil {
			s.nnue.Update(s.pos, m, undo.CapturedPiece)
		}
		s.history = append(s.history, s.pos.Hash)
	} else if s.nnue != nil {
		s.nnue.Pop()
	}
	return undo
}

func (s *Searcher) unmakeMove(m board.Move, undo board.UndoInfo) {
	if undo.Valid {
		s.history = s.history[:len(s.history)-1]
	}
	s.pos.UnmakeMove(m, undo)
	if undo.Valid && s.nnue != nil {
		s.nnue.Pop()
	}
}

func (s *Searcher) makeNullMove(ply int) board.NullMoveUndo {
	if s.nnue != nil {
		s.nnue.Push()
	}
	undo := s.pos.MakeNullMove()
	s.history = append(s.history, s.pos.Hash)
	return undo
}

func (s *Searcher) unmakeNullMove(undo board.NullMoveUndo) {
	s.history = s.history[:len(s.history)-1]
	s.pos.UnmakeNullMove(undo)
	if s.nnue != nil {
		s.nnue.Pop()
	}
}

// isDraw applies spec §4.5's draw detection: fifty-move rule, insufficient
// material, and repetition scanned back through the combined root-history
// plus search-stack hashes, stepping by two plies (same side to move) and
// bounded by the half-move clock since no repetition can reach past the
// last irreversible move. Grounded on the Design Notes' "ring of Zobrist
// hashes ... reset at every irreversible move" convention.
func (s *Searcher) isDraw() bool {
	pos := s.pos
	if pos.HalfMoveClock >= 100 {
		return true
	}
	if pos.IsInsufficientMaterial() {
		return true
	}
	n := len(s.history)
	limit := pos.HalfMoveClock
	if limit > n-1 {
		limit = n - 1
	}
	for i := 2; i <= limit; i += 2 {
		if s.history[n-1-i] == pos.Hash {
			return true
		}
	}
	return false
}

// Reset prepares per-search state ahead of a fresh `go` command: node and
// seldepth counters restart, and MoveOrderer.Clear empties killers and
// counter-moves while halving the history tables. The transposition table
// itself is reused across
// searches and only its age counter advances (NewSearch).
func (s *Searcher) Reset(pos *board.Position, rootHistory []uint64) {
	s.pos = pos
	s.nodes = 0
	s.seldepth = 0
	s.orderer.Clear()
	s.bestMoveStability = 0
	s.lastBestMove = board.NoMove
	s.history = append(s.history[:0], rootHistory...)
	if s.nnue != nil {
		s.nnue.Reset()
		s.nnue.Refresh(pos)
	}
	s.tt.NewSearch()
}

// SearchInfo is emitted after every completed iteration, matching the UCI
// `info depth ... score ... nodes ... nps ... hashfull ... pv ...` line.
type SearchInfo struct {
	Depth    int
	SelDepth int
	Score    int
	Nodes    uint64
	HashFull int
	PV       []board.Move
}

// IterativeDeepening is the top-level search loop: depth 1 upward to the
// smallest of HardDepthCap, any UCI depth limit, or the time manager's
// soft-stop signal. Each depth after aspMinDepth is searched inside a
// narrow aspiration window; a fail mid-search returns the previous
// completed depth's move untouched (spec: "If the time manager stops
// mid-search, return immediately without updating the best move").
func (s *Searcher) IterativeDeepening(limits UCILimits, us board.Color, ply int) (board.Move, int) {
	s.timeman.Init(limits, us, ply)

	var bestMove board.Move
	var bestScore int

	for depth := 1; depth <= HardDepthCap; depth++ {
		if limits.Depth > 0 && depth > limits.Depth {
			break
		}
		if !s.timeman.ShouldStartNewIteration(depth) {
			break
		}

		score, move, ok := s.aspirationSearch(depth, bestScore)
		if !ok {
			break // aborted mid-iteration: keep the previous depth's result
		}

		bestMove = move
		bestScore = score

		if move == s.lastBestMove {
			s.bestMoveStability++
		} else {
			s.bestMoveStability = 0
		}
		s.lastBestMove = move

		if s.OnInfo != nil {
			s.OnInfo(SearchInfo{
				Depth:    depth,
				SelDepth: s.seldepth,
				Score:    bestScore,
				Nodes:    s.nodes,
				HashFull: s.tt.Occupancy(),
				PV:       s.pv.Line(),
			})
		}

		if bestScore > MateScore-MaxPly || bestScore < -MateScore+MaxPly {
			// A forced mate has been found; no deeper search changes the
			// outcome in a way that matters more than the clock.
			break
		}
	}

	return bestMove, bestScore
}

// aspirationSearch runs one iterative-deepening depth inside a narrowing
// window around the previous depth's score. Below aspMinDepth the full
// [-Infinity, Infinity] window is used. On fail-low the window's floor
// drops by the current half-width and the half-width grows by 50% (spec:
// "multiply W by 1.5", matching the original's `width += width/2`); fail-
// high raises the ceiling symmetrically.
func (s *Searcher) aspirationSearch(depth, prevScore int) (score int, move board.Move, ok bool) {
	alpha, beta := -Infinity, Infinity
	width := aspWindow

	if depth >= aspMinDepth {
		alpha = prevScore - width
		beta = prevScore + width
		if alpha < -Infinity {
			alpha = -Infinity
		}
		if beta > Infinity {
			beta = Infinity
		}
	}

	for {
		s.pv.length[0] = 0
		val, aborted := s.negamaxRoot(depth, alpha, beta)
		if aborted {
			return 0, board.NoMove, false
		}

		if val <= alpha {
			alpha -= width
			width += width / 2
			if alpha < -Infinity {
				alpha = -Infinity
			}
			continue
		}
		if val >= beta {
			beta += width
			width += width / 2
			if beta > Infinity {
				beta = Infinity
			}
			continue
		}

		best := board.NoMove
		if s.pv.length[0] > 0 {
			best = s.pv.moves[0][0]
		}
		return val, best, true
	}
}

func (s *Searcher) negamaxRoot(depth, alpha, beta int) (int, bool) {
	return s.negamax(depth, 0, alpha, beta, true, board.NoMove)
}

// negamax is negamax alpha-beta with PVS: the first move at a node is
// searched with the full [alpha, beta] window; every subsequent move first
// probes a null window [alpha, alpha+1] and only re-searches with the full
// window if that probe raises alpha (a "PV" re-search). prevMove is the move
// that led to this node, used to look up the counter-move and countermove
// history tables.
func (s *Searcher) negamax(depth, ply int, alpha, beta int, isPV bool, prevMove board.Move) (int, bool) {
	if ply > 0 {
		s.nodes++
		if s.nodes%CheckFreq == 0 && s.timeman.ShouldStopNow() {
			return 0, true
		}
		if ply > s.seldepth {
			s.seldepth = ply
		}

		if s.isDraw() {
			return 0, false
		}
		if ply >= MaxPly {
			return s.evaluate(), false
		}
	} else {
		s.nodes++
	}

	s.pv.length[ply] = ply

	origAlpha := alpha

	var ttMove board.Move
	if entry, found := s.tt.Probe(s.pos.Hash); found {
		ttMove = entry.Move
		if ply > 0 && int(entry.Depth) >= depth {
			ttScore := AdjustScoreFromTT(int(entry.Score), ply)
			switch entry.Bound {
			case BoundExact:
				return ttScore, false
			case BoundLower:
				if ttScore > alpha {
					alpha = ttScore
				}
			case BoundUpper:
				if ttScore < beta {
					beta = ttScore
				}
			}
			if alpha >= beta {
				return ttScore, false
			}
		}
	}

	if depth <= 0 {
		return s.quiescence(ply, alpha, beta)
	}

	inCheck := s.pos.InCheck()
	var staticEval int
	if !inCheck {
		staticEval = s.evaluate()
	}

	// Null-move pruning: skip a turn and see if the opponent is still in
	// trouble even with an extra tempo. Never tried in check, with no
	// non-pawn material (zugzwang risk), or at shallow depth.
	if !isPV && !inCheck && depth >= nullMoveMinDepth && ply > 0 &&
		s.pos.HasNonPawnMaterial() && staticEval >= beta {
		nullUndo := s.makeNullMove(ply)
		score, aborted := s.negamax(depth-1-nullMoveReduction, ply+1, -beta, -beta+1, false, board.NoMove)
		s.unmakeNullMove(nullUndo)
		if aborted {
			return 0, true
		}
		if -score >= beta {
			return beta, false
		}
	}

	moves := s.pos.GenerateLegalMoves()
	if moves.Len() == 0 {
		if inCheck {
			return -MateScore + ply, false
		}
		return 0, false
	}

	scores := s.orderer.ScoreMovesWithCounter(s.pos, moves, ply, ttMove, prevMove)
	seeCache := make([]int, moves.Len())
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.IsCapture(s.pos) {
			seeCache[i] = SEE(s.pos, m)
			if seeCache[i] < 0 {
				scores[i] = BadCaptureBase + scores[i]%1000
			}
		} else {
			seeCache[i] = 0
		}
	}

	var prevPiece board.Piece = board.NoPiece
	if prevMove != board.NoMove {
		prevPiece = s.pos.PieceAt(prevMove.To())
	}

	bestScore := -Infinity
	bestMove := board.NoMove
	bound := BoundUpper
	legalCount := 0

	type triedCapture struct {
		attacker board.Piece
		to       board.Square
		captured board.PieceType
	}
	var triedQuiets []board.Move
	var triedCaptures []triedCapture

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		m := moves.Get(i)
		seeOK := seeCache[i] >= seeQuietThreshold
		isCapture := m.IsCapture(s.pos)
		movedPiece := s.pos.PieceAt(m.From())

		var capInfo triedCapture
		if isCapture {
			capInfo.attacker = s.pos.PieceAt(m.From())
			capInfo.to = m.To()
			if m.IsEnPassant() {
				capInfo.captured = board.Pawn
			} else if cp := s.pos.PieceAt(m.To()); cp != board.NoPiece {
				capInfo.captured = cp.Type()
			}
		}

		undo := s.makeMove(ply, m)
		if !undo.Valid {
			continue
		}
		legalCount++

		givesCheck := s.pos.InCheck()

		var score int
		var aborted bool

		if legalCount == 1 {
			score, aborted = s.negamax(depth-1, ply+1, -beta, -alpha, isPV, m)
			score = -score
		} else {
			reduction := 0
			isQuiet := !isCapture && !m.IsPromotion()
			isKiller := m == s.orderer.killers[ply][0] || m == s.orderer.killers[ply][1]
			if depth >= 3 && legalCount > lmrStartMoveIndex && isQuiet && !isKiller &&
				!givesCheck && !inCheck && seeOK {
				reduction = lmrReduction(depth, legalCount)
			}

			score, aborted = s.negamax(depth-1-reduction, ply+1, -alpha-1, -alpha, false, m)
			score = -score
			if !aborted && score > alpha && reduction > 0 {
				score, aborted = s.negamax(depth-1, ply+1, -alpha-1, -alpha, false, m)
				score = -score
			}
			if !aborted && score > alpha && score < beta {
				score, aborted = s.negamax(depth-1, ply+1, -beta, -alpha, true, m)
				score = -score
			}
		}

		s.unmakeMove(m, undo)

		if aborted {
			return 0, true
		}

		if score > bestScore {
			bestScore = score
			bestMove = m
			if score > alpha {
				alpha = score
				bound = BoundExact
				s.pv.update(ply, m)
			}
		}

		if alpha >= beta {
			bound = BoundLower
			if !isCapture && !m.IsPromotion() {
				s.orderer.UpdateKillers(m, ply)
				s.orderer.UpdateHistory(m, depth, true)
				s.orderer.UpdateCounterMove(prevMove, m, s.pos)
				s.orderer.UpdateCountermoveHistory(prevMove, m, prevPiece, movedPiece, depth, true)
				for _, q := range triedQuiets {
					s.orderer.UpdateHistory(q, depth, false)
				}
			} else {
				s.orderer.UpdateCaptureHistory(capInfo.attacker, capInfo.to, capInfo.captured, depth, true)
				for _, c := range triedCaptures {
					s.orderer.UpdateCaptureHistory(c.attacker, c.to, c.captured, depth, false)
				}
			}
			break
		}
	}

	if legalCount == 0 {
		if inCheck {
			return -MateScore + ply, false
		}
		return 0, false
	}

	_ = origAlpha
	s.tt.Store(s.pos.Hash, depth, AdjustScoreToTT(bestScore, ply), bound, bestMove)

	if !inCheck && bestScore > -MateScore+MaxPly && bestScore < MateScore-MaxPly {
		s.correction.Update(s.pos, bestScore, staticEval, depth)
	}

	return bestScore, false
}

// quiescence resolves tactical sequences at the search horizon: stand-pat
// equals the static evaluation, captures (and queen promotions) are tried
// in MVV-LVA+SEE order, and SEE-losing captures are skipped outright.
func (s *Searcher) quiescence(ply, alpha, beta int) (int, bool) {
	s.nodes++
	if s.nodes%CheckFreq == 0 && s.timeman.ShouldStopNow() {
		return 0, true
	}
	if ply > s.seldepth {
		s.seldepth = ply
	}
	if ply >= MaxPly {
		return s.evaluate(), false
	}

	standPat := s.evaluate()
	if standPat >= beta {
		return beta, false
	}
	if standPat > alpha {
		alpha = standPat
	}

	bigDelta := QueenValue
	if standPat+bigDelta < alpha {
		return alpha, false
	}

	moves := s.pos.GenerateCaptures()
	scores := s.orderer.ScoreMoves(s.pos, moves, ply, board.NoMove)

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		m := moves.Get(i)

		// Non-capturing underpromotions are not tactical enough to resolve here.
		if m.IsPromotion() && m.Promotion() != board.Queen && !m.IsCapture(s.pos) {
			continue
		}

		if SEE(s.pos, m) < seeQuietThreshold {
			continue
		}

		undo := s.makeMove(ply, m)
		if !undo.Valid {
			continue
		}

		score, aborted := s.quiescence(ply+1, -beta, -alpha)
		score = -score
		s.unmakeMove(m, undo)

		if aborted {
			return 0, true
		}

		if score >= beta {
			return beta, false
		}
		if score > alpha {
			alpha = score
		}
	}

	return alpha, false
}
