package tablebase

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hailam/chessplay/internal/board"
)

// SyzygyProber is a black-box `wdl_or_bestmove(position) -> option`
// collaborator: it scans its configured path for complete local Syzygy file
// pairs (.rtbw/.rtbz) and reports availability/piece-count diagnostics to
// UCI. Probes do not look up a position's own material files; they only
// compare its piece count with MaxPieces.
// Decoding the actual Syzygy binary format is out of scope here; when files
// are present this still reports ProbeResult{Found: false} rather than
// fabricate a score, so the search never trusts an unimplemented decode.
type SyzygyProber struct {
	path      string
	maxPieces int
	available bool
	mu        sync.RWMutex
}

// NewSyzygyProber creates a new Syzygy prober rooted at path. If path is
// empty, the default cache directory is used. No network access is ever
// attempted; a missing or empty directory simply disables probing.
func NewSyzygyProber(path string) *SyzygyProber {
	if path == "" {
		path = DefaultCacheDir()
	}

	sp := &SyzygyProber{path: path}
	sp.refresh()
	return sp
}

// DefaultCacheDir returns the default directory searched for local Syzygy
// files when SyzygyPath is left unset.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./syzygy"
	}
	return filepath.Join(home, ".chessplay", "syzygy")
}

// refresh rescans the configured directory and updates the reported
// maximum piece count.
func (sp *SyzygyProber) refresh() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if _, err := os.Stat(sp.path); os.IsNotExist(err) {
		sp.available = false
		sp.maxPieces = 0
		log.Printf("info string Syzygy path does not exist: %s, tablebase probing disabled", sp.path)
		return
	}

	sp.maxPieces = maxPiecesAvailable(sp.path)
	sp.available = sp.maxPieces > 0

	if sp.available {
		log.Printf("info string Syzygy tablebases found at %s (max %d pieces)", sp.path, sp.maxPieces)
	} else {
		log.Printf("info string no Syzygy tablebase files found at %s, tablebase probing disabled", sp.path)
	}
}

// SetPath updates the tablebase directory and rescans it.
func (sp *SyzygyProber) SetPath(path string) {
	if path == "" {
		path = DefaultCacheDir()
	}
	sp.path = path
	sp.refresh()
}

// Probe looks up a position in the tablebase. No local decoder is wired in
// (see the SyzygyProber doc comment), so this always reports a miss; the
// search falls through to its own evaluation, exactly as if tablebases were
// disabled.
func (sp *SyzygyProber) Probe(pos *board.Position) ProbeResult {
	if CountPieces(pos) > sp.MaxPieces() {
		return ProbeResult{Found: false}
	}
	return ProbeResult{Found: false}
}

// ProbeRoot is the root-position counterpart of Probe; like Probe, it always
// reports a miss.
func (sp *SyzygyProber) ProbeRoot(pos *board.Position) RootResult {
	if CountPieces(pos) > sp.MaxPieces() {
		return RootResult{Found: false}
	}
	return RootResult{Found: false}
}

// MaxPieces returns the maximum piece count covered by local files.
func (sp *SyzygyProber) MaxPieces() int {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.maxPieces
}

// Available reports whether any local Syzygy files were found.
func (sp *SyzygyProber) Available() bool {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.available
}

// Path returns the currently configured tablebase directory.
func (sp *SyzygyProber) Path() string {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.path
}

// positionToMaterial converts a position to a material key like "KQvKR",
// the naming convention Syzygy files use on disk.
func positionToMaterial(pos *board.Position) string {
	var white, black strings.Builder

	for pt := board.Queen; pt >= board.Pawn; pt-- {
		count := pos.Pieces[board.White][pt].PopCount()
		for i := 0; i < count; i++ {
			white.WriteByte(pieceChar(pt))
		}
	}

	for pt := board.Queen; pt >= board.Pawn; pt-- {
		count := pos.Pieces[board.Black][pt].PopCount()
		for i := 0; i < count; i++ {
			black.WriteByte(pieceChar(pt))
		}
	}

	return "K" + white.String() + "vK" + black.String()
}

func pieceChar(pt board.PieceType) byte {
	switch pt {
	case board.Queen:
		return 'Q'
	case board.Rook:
		return 'R'
	case board.Bishop:
		return 'B'
	case board.Knight:
		return 'N'
	case board.Pawn:
		return 'P'
	default:
		return '?'
	}
}

// checkLocalFile reports whether both halves of a material's tablebase
// pair exist locally.
func (sp *SyzygyProber) checkLocalFile(material string) bool {
	wdlPath := filepath.Join(sp.path, material+".rtbw")
	dtzPath := filepath.Join(sp.path, material+".rtbz")

	_, wdlErr := os.Stat(wdlPath)
	_, dtzErr := os.Stat(dtzPath)

	return wdlErr == nil && dtzErr == nil
}

// maxPiecesAvailable scans dir for complete .rtbw/.rtbz pairs and returns
// the largest piece count among them.
func maxPiecesAvailable(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	seen := make(map[string]int)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".rtbw"):
			seen[strings.TrimSuffix(name, ".rtbw")]++
		case strings.HasSuffix(name, ".rtbz"):
			seen[strings.TrimSuffix(name, ".rtbz")]++
		}
	}

	var complete []string
	for base, count := range seen {
		if count >= 2 {
			complete = append(complete, base)
		}
	}
	sort.Strings(complete)

	max := 0
	for _, name := range complete {
		if n := countPiecesFromName(name); n > max {
			max = n
		}
	}
	return max
}

func countPiecesFromName(name string) int {
	count := 0
	for _, c := range strings.ToUpper(name) {
		switch c {
		case 'K', 'Q', 'R', 'B', 'N', 'P':
			count++
		}
	}
	return count
}
