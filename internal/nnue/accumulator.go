package nnue

import (
	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/sfnnue"
)

// Accumulator holds the hidden-layer activations for both perspectives,
// maintained incrementally as moves are made. Feature weight adds/subtracts
// run through the sfnnue submodule's SIMD primitives (NEON on arm64, a
// scalar fallback elsewhere) rather than a hand-rolled loop here.
type Accumulator struct {
	White [HiddenSize]int16
	Black [HiddenSize]int16

	Computed bool
}

// AccumulatorStack manages per-ply accumulator snapshots during search so
// Push/Pop can ride alongside MakeMove/UnmakeMove without recomputing from
// scratch at every node.
type AccumulatorStack struct {
	stack [128]Accumulator
	top   int
}

// NewAccumulatorStack creates an empty accumulator stack.
func NewAccumulatorStack() *AccumulatorStack {
	return &AccumulatorStack{}
}

// Push duplicates the current accumulator onto the next stack slot.
func (s *AccumulatorStack) Push() {
	if s.top < len(s.stack)-1 {
		s.stack[s.top+1] = s.stack[s.top]
		s.top++
	}
}

// Pop discards the top accumulator, returning to the previous ply's state.
func (s *AccumulatorStack) Pop() {
	if s.top > 0 {
		s.top--
	}
}

// Current returns the accumulator for the current ply.
func (s *AccumulatorStack) Current() *Accumulator {
	return &s.stack[s.top]
}

// Reset clears the stack back to ply zero.
func (s *AccumulatorStack) Reset() {
	s.top = 0
	s.stack[0].Computed = false
}

// ComputeFull rebuilds both perspectives from scratch: start from the
// feature bias, then add every piece currently on the board.
func (acc *Accumulator) ComputeFull(pos *board.Position, net *Network) {
	copy(acc.White[:], net.FeatureBias[:])
	copy(acc.Black[:], net.FeatureBias[:])

	for _, f := range collectFeatures(pos) {
		sfnnue.SIMDAddInt16(acc.White[:], net.FeatureWeights[f.white][:])
		sfnnue.SIMDAddInt16(acc.Black[:], net.FeatureWeights[f.black][:])
	}

	acc.Computed = true
}

// UpdateIncremental applies a single move's feature delta to an
// already-computed accumulator. Because the feature scheme is king-agnostic,
// a king move is just another piece move here — no full refresh required,
// unlike a king-relative HalfKP scheme.
func (acc *Accumulator) UpdateIncremental(pos *board.Position, m board.Move, captured board.Piece, net *Network) {
	if !acc.Computed {
		acc.ComputeFull(pos, net)
		return
	}

	delta := computeMoveDelta(pos, m, captured)
	if len(delta.remove) == 0 && len(delta.add) == 0 {
		acc.Computed = false
		acc.ComputeFull(pos, net)
		return
	}

	for _, f := range delta.remove {
		sfnnue.SIMDSubInt16(acc.White[:], net.FeatureWeights[f.white][:])
		sfnnue.SIMDSubInt16(acc.Black[:], net.FeatureWeights[f.black][:])
	}
	for _, f := range delta.add {
		sfnnue.SIMDAddInt16(acc.White[:], net.FeatureWeights[f.white][:])
		sfnnue.SIMDAddInt16(acc.Black[:], net.FeatureWeights[f.black][:])
	}
}
