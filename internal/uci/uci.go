// Package uci implements the Universal Chess Interface protocol: a
// text-based request/response loop over stdin/stdout that lets any GUI or
// tournament manager drive the engine.
package uci

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/engine"
	"github.com/hailam/chessplay/internal/tablebase"
	"github.com/hailam/chessplay/internal/tbcache"
)

// UCI option bounds, per spec §6.
const (
	hashDefaultMB    = 256
	hashMinMB        = 1
	hashMaxMB        = 1024
	moveOverheadMin  = 0
	moveOverheadMax  = 1000
	syzygyDepthMin   = 1
	syzygyDepthMax   = 100
	syzygyDepthStart = 1
)

// UCI implements the Universal Chess Interface protocol.
type UCI struct {
	engine   *engine.Engine
	position *board.Position

	// positionHashes is the Zobrist hash of every position reached so far
	// this game (including the current one), fed to the engine for
	// repetition detection.
	positionHashes []uint64

	evalFile string

	syzygyPath       string
	syzygyProbeDepth int
	syzygyProber     *tablebase.SyzygyProber
	tbcache          *tbcache.Store

	searching     bool
	searchDone    chan struct{}
	stopRequested atomic.Bool
	searchStart   time.Time

	profileFile *os.File
}

// New creates a new UCI protocol handler.
func New(eng *engine.Engine) *UCI {
	return &UCI{
		engine:   eng,
		position: board.NewPosition(),
	}
}

// Run starts the UCI main loop, reading commands from stdin until `quit`.
func (u *UCI) Run() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "uci":
			u.handleUCI()
		case "isready":
			fmt.Println("readyok")
		case "ucinewgame":
			u.handleNewGame()
		case "position":
			u.handlePosition(args)
		case "go":
			u.handleGo(args)
		case "stop":
			u.handleStop()
		case "quit":
			u.handleQuit()
		case "setoption":
			u.handleSetOption(args)
		case "d":
			fmt.Println(u.position.String())
		case "perft":
			u.handlePerft(args)
		}
	}
}

// handleUCI responds to the "uci" handshake with engine identity and the
// full option table.
func (u *UCI) handleUCI() {
	fmt.Println("id name ChessPlay")
	fmt.Println("id author ChessPlay Team")
	fmt.Println()
	fmt.Printf("option name Hash type spin default %d min %d max %d\n", hashDefaultMB, hashMinMB, hashMaxMB)
	fmt.Println("option name Threads type spin default 1 min 1 max 1")
	fmt.Printf("option name Move Overhead type spin default 0 min %d max %d\n", moveOverheadMin, moveOverheadMax)
	fmt.Println("option name EvalFile type string default <empty>")
	fmt.Println("option name SyzygyPath type string default <empty>")
	fmt.Printf("option name SyzygyProbeDepth type spin default %d min %d max %d\n", syzygyDepthStart, syzygyDepthMin, syzygyDepthMax)
	fmt.Println("uciok")
}

// handleNewGame clears the engine's tables (Engine.Clear) and resets the
// position for a new game.
func (u *UCI) handleNewGame() {
	u.engine.Clear()
	u.position = board.NewPosition()
	u.positionHashes = []uint64{u.position.Hash}
}

// handlePosition parses and sets up a position.
//
//	position startpos
//	position startpos moves e2e4 e7e5
//	position fen <fen>
//	position fen <fen> moves e2e4
func (u *UCI) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}

	u.positionHashes = nil
	var moveStart int

	switch args[0] {
	case "startpos":
		u.position = board.NewPosition()
		moveStart = 1
		for i, arg := range args {
			if arg == "moves" {
				moveStart = i + 1
				break
			}
		}
	case "fen":
		fenEnd := len(args)
		for i, arg := range args[1:] {
			if arg == "moves" {
				fenEnd = i + 1
				break
			}
		}

		fenStr := strings.Join(args[1:fenEnd], " ")
		pos, err := board.ParseFEN(fenStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "info string invalid FEN: %v\n", err)
			return
		}
		u.position = pos

		moveStart = len(args)
		for i, arg := range args {
			if arg == "moves" {
				moveStart = i + 1
				break
			}
		}
	default:
		return
	}

	u.positionHashes = append(u.positionHashes, u.position.Hash)

	if moveStart < len(args) {
		for _, moveStr := range args[moveStart:] {
			move := u.parseMove(moveStr)
			if move == board.NoMove {
				fmt.Fprintf(os.Stderr, "info string invalid move: %s\n", moveStr)
				return
			}
			u.position.MakeMove(move)
			u.positionHashes = append(u.positionHashes, u.position.Hash)
		}
	}
}

// parseMove resolves a UCI long-algebraic move string against the set of
// currently legal moves, so castling/en-passant/promotion flags are filled
// in correctly regardless of how the GUI spelled the move.
func (u *UCI) parseMove(moveStr string) board.Move {
	if len(moveStr) < 4 {
		return board.NoMove
	}

	fromFile := int(moveStr[0] - 'a')
	fromRank := int(moveStr[1] - '1')
	toFile := int(moveStr[2] - 'a')
	toRank := int(moveStr[3] - '1')

	if fromFile < 0 || fromFile > 7 || fromRank < 0 || fromRank > 7 ||
		toFile < 0 || toFile > 7 || toRank < 0 || toRank > 7 {
		return board.NoMove
	}

	from := board.NewSquare(fromFile, fromRank)
	to := board.NewSquare(toFile, toRank)

	var promo board.PieceType
	if len(moveStr) == 5 {
		switch moveStr[4] {
		case 'q':
			promo = board.Queen
		case 'r':
			promo = board.Rook
		case 'b':
			promo = board.Bishop
		case 'n':
			promo = board.Knight
		}
	}

	moves := u.position.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() != from || m.To() != to {
			continue
		}
		if promo != 0 {
			if m.IsPromotion() && m.Promotion() == promo {
				return m
			}
		} else if !m.IsPromotion() {
			return m
		}
	}

	return board.NoMove
}

// GoOptions holds parsed "go" command options.
type GoOptions struct {
	Depth     int
	Nodes     uint64
	MoveTime  time.Duration
	Infinite  bool
	WTime     time.Duration
	BTime     time.Duration
	WInc      time.Duration
	BInc      time.Duration
	MovesToGo int
}

// handleGo starts a search in a background goroutine and streams `info`
// lines back as each iteration completes.
func (u *UCI) handleGo(args []string) {
	opts := u.parseGoOptions(args)
	limits := u.toUCILimits(opts)

	u.engine.SetPositionHistory(u.positionHashes)

	u.searching = true
	u.stopRequested.Store(false)
	u.searchDone = make(chan struct{})
	u.searchStart = time.Now()

	pos := u.position.Copy()
	rootPos := u.position.Copy()

	go func() {
		defer close(u.searchDone)

		bestMove, _ := u.engine.Search(pos, limits, func(info engine.SearchInfo) {
			u.sendInfo(info)
		})

		u.searching = false

		if bestMove != board.NoMove && isLegalIn(rootPos, bestMove) {
			fmt.Printf("bestmove %s\n", bestMove.String())
			return
		}

		fmt.Fprintf(os.Stderr, "info string search returned an unplayable move, falling back\n")
		legal := rootPos.GenerateLegalMoves()
		if legal.Len() > 0 {
			fmt.Printf("bestmove %s\n", legal.Get(0).String())
		} else {
			fmt.Println("bestmove 0000")
		}
	}()
}

func isLegalIn(pos *board.Position, m board.Move) bool {
	legal := pos.GenerateLegalMoves()
	for i := 0; i < legal.Len(); i++ {
		if legal.Get(i) == m {
			return true
		}
	}
	return false
}

// parseGoOptions parses "go" command arguments.
func (u *UCI) parseGoOptions(args []string) GoOptions {
	opts := GoOptions{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "depth":
			if i+1 < len(args) {
				opts.Depth, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "nodes":
			if i+1 < len(args) {
				n, _ := strconv.ParseUint(args[i+1], 10, 64)
				opts.Nodes = n
				i++
			}
		case "movetime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.MoveTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "infinite":
			opts.Infinite = true
		case "wtime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.WTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "btime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.BTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "winc":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.WInc = time.Duration(ms) * time.Millisecond
				i++
			}
		case "binc":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.BInc = time.Duration(ms) * time.Millisecond
				i++
			}
		case "movestogo":
			if i+1 < len(args) {
				opts.MovesToGo, _ = strconv.Atoi(args[i+1])
				i++
			}
		}
	}

	return opts
}

// toUCILimits converts the parsed `go` options into engine.UCILimits,
// leaving the exact soft/hard deadline arithmetic to the engine's time
// manager (§4.7) rather than computing a single move-time budget here.
func (u *UCI) toUCILimits(opts GoOptions) engine.UCILimits {
	limits := engine.UCILimits{
		Depth:     opts.Depth,
		Nodes:     opts.Nodes,
		MoveTime:  opts.MoveTime,
		Infinite:  opts.Infinite,
		MovesToGo: opts.MovesToGo,
	}
	limits.Time[board.White] = opts.WTime
	limits.Time[board.Black] = opts.BTime
	limits.Inc[board.White] = opts.WInc
	limits.Inc[board.Black] = opts.BInc
	return limits
}

// sendInfo outputs one `info` line per completed iteration.
func (u *UCI) sendInfo(info engine.SearchInfo) {
	elapsed := time.Since(u.searchStart)

	var parts []string
	parts = append(parts, fmt.Sprintf("depth %d", info.Depth))
	if info.SelDepth > 0 {
		parts = append(parts, fmt.Sprintf("seldepth %d", info.SelDepth))
	}
	parts = append(parts, "score "+engine.ScoreToString(info.Score))
	parts = append(parts, fmt.Sprintf("nodes %d", info.Nodes))
	parts = append(parts, fmt.Sprintf("time %d", elapsed.Milliseconds()))

	if elapsed > 0 {
		nps := uint64(float64(info.Nodes) / elapsed.Seconds())
		parts = append(parts, fmt.Sprintf("nps %d", nps))
	}
	if info.HashFull > 0 {
		parts = append(parts, fmt.Sprintf("hashfull %d", info.HashFull))
	}
	if len(info.PV) > 0 {
		strs := make([]string, len(info.PV))
		for i, m := range info.PV {
			strs[i] = m.String()
		}
		parts = append(parts, "pv "+strings.Join(strs, " "))
	}

	fmt.Printf("info %s\n", strings.Join(parts, " "))
}

// handleStop requests the in-progress search to abort and waits for its
// `bestmove` before returning, so `stop` followed by `quit` never races the
// search goroutine.
func (u *UCI) handleStop() {
	if u.searching {
		u.stopRequested.Store(true)
		u.engine.Stop()
		<-u.searchDone
	}
}

// handleQuit stops any search, closes the CPU profile if one is open, and
// exits.
func (u *UCI) handleQuit() {
	u.handleStop()
	if u.profileFile != nil {
		pprof.StopCPUProfile()
		u.profileFile.Close()
		fmt.Fprintf(os.Stderr, "info string CPU profile saved\n")
	}
	if u.tbcache != nil {
		u.tbcache.Close()
	}
	os.Exit(0)
}

// handleSetOption processes "setoption name <name> value <value>".
func (u *UCI) handleSetOption(args []string) {
	var name, value string
	readingName, readingValue := false, false

	for _, arg := range args {
		switch arg {
		case "name":
			readingName, readingValue = true, false
		case "value":
			readingName, readingValue = false, true
		default:
			if readingName {
				if name != "" {
					name += " "
				}
				name += arg
			} else if readingValue {
				if value != "" {
					value += " "
				}
				value += arg
			}
		}
	}

	switch strings.ToLower(name) {
	case "hash":
		if mb, err := strconv.Atoi(value); err == nil {
			u.engine.SetHashSize(mb)
		}
	case "threads":
		// Fixed at 1 (§5: single-threaded search); accepted and ignored so
		// GUIs that always send it don't see an "unknown option" error.
	case "move overhead":
		if ms, err := strconv.Atoi(value); err == nil {
			u.engine.SetMoveOverhead(time.Duration(ms) * time.Millisecond)
		}
	case "evalfile":
		u.evalFile = value
		if err := u.engine.LoadNNUE(u.evalFile); err != nil {
			fmt.Fprintf(os.Stderr, "info string failed to load NNUE weights: %v\n", err)
		}
	case "syzygypath":
		u.syzygyPath = value
		u.initSyzygy()
	case "syzygyprobedepth":
		if depth, err := strconv.Atoi(value); err == nil && depth >= syzygyDepthMin {
			u.syzygyProbeDepth = depth
			u.engine.SetSyzygyProbeDepth(depth)
		}
	case "cpuprofile":
		if u.profileFile != nil {
			pprof.StopCPUProfile()
			u.profileFile.Close()
			u.profileFile = nil
			fmt.Fprintf(os.Stderr, "info string CPU profile stopped\n")
		}
		if value != "" && value != "stop" {
			f, err := os.Create(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "info string failed to create profile: %v\n", err)
				return
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				fmt.Fprintf(os.Stderr, "info string failed to start profile: %v\n", err)
				return
			}
			u.profileFile = f
			fmt.Fprintf(os.Stderr, "info string CPU profiling to %s\n", value)
		}
	}
}

// initSyzygy wires a local Syzygy probe into the engine, matching
// `setoption name SyzygyPath`. Probing is purely local: no network
// fallback or background download is ever started (§9 Non-goals).
func (u *UCI) initSyzygy() {
	if u.tbcache != nil {
		u.tbcache.Close()
		u.tbcache = nil
	}

	if u.syzygyPath == "" {
		u.engine.SetTablebase(tablebase.NoopProber{})
		return
	}

	u.syzygyProber = tablebase.NewSyzygyProber(u.syzygyPath)

	// Wrap the prober in a BadgerDB-backed memoization layer: iterative
	// deepening revisits the same endgame leaf at several depths, and a
	// probe result keyed by Zobrist hash doesn't change between them.
	cacheDir := filepath.Join(u.syzygyPath, ".tbcache")
	store, err := tbcache.Open(cacheDir, u.syzygyProber)
	if err != nil {
		fmt.Fprintf(os.Stderr, "info string tablebase cache unavailable (%v), probing uncached\n", err)
		u.engine.SetTablebase(u.syzygyProber)
	} else {
		u.tbcache = store
		u.engine.SetTablebase(store)
	}

	probeDepth := u.syzygyProbeDepth
	if probeDepth < syzygyDepthMin {
		probeDepth = syzygyDepthStart
	}
	u.engine.SetSyzygyProbeDepth(probeDepth)

	fmt.Fprintf(os.Stderr, "info string Syzygy tablebase initialized at %s\n", u.syzygyPath)
}

// handlePerft runs a perft node count from the current position, for move
// generator validation.
func (u *UCI) handlePerft(args []string) {
	depth := 5
	if len(args) > 0 {
		depth, _ = strconv.Atoi(args[0])
	}

	start := time.Now()
	nodes := u.engine.Perft(u.position, depth)
	elapsed := time.Since(start)

	fmt.Printf("Nodes: %d\n", nodes)
	fmt.Printf("Time: %v\n", elapsed)
	if elapsed > 0 {
		nps := float64(nodes) / elapsed.Seconds()
		fmt.Printf("NPS: %.0f\n", nps)
	}
}
