// Package tbcache memoizes tablebase probe results in an embedded BadgerDB
// store, keyed by Zobrist hash. Iterative deepening revisits the same
// shallow endgame positions at every depth, so a probe that required a
// directory stat and material-key scan the first time is a plain key
// lookup on every later depth.
package tbcache

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/tablebase"
)

// entry is the gob-encoded value stored per Zobrist key. Root probes carry
// a move, plain probes don't; both share one record so a single Get covers
// either call.
type entry struct {
	Probe    tablebase.ProbeResult
	Root     tablebase.RootResult
	HasProbe bool
	HasRoot  bool
}

// Store wraps a tablebase.Prober with a BadgerDB-backed result cache.
type Store struct {
	inner tablebase.Prober
	db    *badger.DB
}

// Open creates (or reuses) a BadgerDB directory at dir and wraps inner with
// a caching layer. If dir is empty, the persistent on-disk DefaultDir is
// used.
func Open(dir string, inner tablebase.Prober) (*Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{inner: inner, db: db}, nil
}

// DefaultDir returns the default BadgerDB directory for the probe cache.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./tbcache"
	}
	return filepath.Join(home, ".chessplay", "tbcache")
}

// Close releases the underlying BadgerDB handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(hash uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(hash >> (8 * i))
	}
	return b[:]
}

func (s *Store) lookup(hash uint64) (entry, bool) {
	var e entry
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&e); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	return e, found
}

func (s *Store) store(hash uint64, e entry) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return
	}
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(hash), buf.Bytes())
	})
}

// Probe looks up a position, serving from the BadgerDB cache when present.
func (s *Store) Probe(pos *board.Position) tablebase.ProbeResult {
	if e, ok := s.lookup(pos.Hash); ok && e.HasProbe {
		return e.Probe
	}

	result := s.inner.Probe(pos)

	e, _ := s.lookup(pos.Hash)
	e.Probe = result
	e.HasProbe = true
	s.store(pos.Hash, e)
	return result
}

// ProbeRoot finds the best move from the tablebase, caching by Zobrist hash.
func (s *Store) ProbeRoot(pos *board.Position) tablebase.RootResult {
	if e, ok := s.lookup(pos.Hash); ok && e.HasRoot {
		return e.Root
	}

	result := s.inner.ProbeRoot(pos)

	e, _ := s.lookup(pos.Hash)
	e.Root = result
	e.HasRoot = true
	s.store(pos.Hash, e)
	return result
}

// MaxPieces delegates to the wrapped prober.
func (s *Store) MaxPieces() int { return s.inner.MaxPieces() }

// Available delegates to the wrapped prober.
func (s *Store) Available() bool { return s.inner.Available() }
