// Package app wires together the engine and the UCI protocol handler into
// the single process entry point both `main.go` and `cmd/chessplay-uci`
// expose — the latter is the canonical binary name, the former a thin
// convenience wrapper so `go run github.com/hailam/chessplay` also works.
package app

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/hailam/chessplay/internal/engine"
	"github.com/hailam/chessplay/internal/uci"
)

// defaultNetFile is the conventional weight-file name auto-loaded from a
// handful of well-known directories at startup, so a GUI that never sends
// `setoption name EvalFile` still gets NNUE evaluation.
const defaultNetFile = "chessplay.nnue"

// Run parses flags, constructs the engine, and drives the UCI loop until
// `quit`. The UCI handler ends the process with os.Exit(0) on `quit`; Run
// otherwise returns when stdin closes, or exits non-zero via log.Fatalf if
// the CPU profile cannot be set up.
func Run() {
	cpuprofile := flag.String("cpuprofile", "", "write a CPU profile to this file before exiting")
	hashMB := flag.Int("hash", 256, "initial transposition table size in MB")
	flag.Parse()

	profilePath := *cpuprofile
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			log.Fatalf("could not create CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
		log.Printf("CPU profiling enabled, writing to %s", profilePath)
	}

	eng := engine.NewEngine(*hashMB)

	if path, ok := findDefaultNet(); ok {
		if err := eng.LoadNNUE(path); err != nil {
			log.Printf("NNUE weights at %s failed to load: %v (falling back to classical eval)", path, err)
		} else {
			log.Printf("NNUE weights loaded from %s", path)
		}
	}

	protocol := uci.New(eng)
	protocol.Run()
}

// findDefaultNet searches a small set of conventional directories for
// defaultNetFile: `~/.chessplay/nnue` first (the same `~/.chessplay` root
// the Syzygy and tbcache defaults use), then the working directory.
func findDefaultNet() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	candidates := []string{
		filepath.Join(home, ".chessplay", "nnue", defaultNetFile),
		filepath.Join(".", "nnue", defaultNetFile),
		filepath.Join(".", defaultNetFile),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}
