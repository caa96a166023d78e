package nnue

import "github.com/hailam/chessplay/internal/board"

// FeatureIndices computes the two feature indices a piece contributes: one
// for white's accumulator, one for black's. Unlike a king-relative scheme,
// no king square is involved — only the board's own mirror symmetry, so a
// king moving never invalidates anything but its own single feature.
// Each perspective sees its own pieces in the first half of the feature
// space and the opponent's in the second half, with the board flipped
// vertically for black's perspective.
func FeatureIndices(pt board.PieceType, c board.Color, sq board.Square) (whiteIdx, blackIdx int) {
	p := int(pt)
	col := int(c)

	whiteIdx = col*ColorStride + p*NumSquares + int(sq)
	blackIdx = (1^col)*ColorStride + p*NumSquares + int(sq.Mirror())
	return whiteIdx, blackIdx
}

// activeFeature pairs the white/black indices for one piece on the board,
// used when building an accumulator from scratch.
type activeFeature struct {
	white, black int
}

// collectFeatures lists the active feature pair for every piece on the board.
func collectFeatures(pos *board.Position) []activeFeature {
	out := make([]activeFeature, 0, 32)
	for c := board.White; c <= board.Black; c++ {
		for pt := board.Pawn; pt <= board.King; pt++ {
			pieces := pos.Pieces[c][pt]
			for pieces != 0 {
				sq := pieces.PopLSB()
				w, b := FeatureIndices(pt, c, sq)
				out = append(out, activeFeature{white: w, black: b})
			}
		}
	}
	return out
}

// moveFeatureDelta describes the set of feature pairs to remove and add for
// an incremental accumulator update following a move already applied to pos.
type moveFeatureDelta struct {
	remove []activeFeature
	add    []activeFeature
}

// computeMoveDelta derives the feature changes for a move. Promotions and
// captures (including en passant) each contribute their own remove/add pair;
// castling additionally moves the rook.
func computeMoveDelta(pos *board.Position, m board.Move, captured board.Piece) moveFeatureDelta {
	var d moveFeatureDelta
	from, to := m.From(), m.To()
	moved := pos.PieceAt(to)
	if moved == board.NoPiece {
		return d
	}
	us := moved.Color()

	movedFromType := moved.Type()
	if m.IsPromotion() {
		movedFromType = board.Pawn
	}
	w, b := FeatureIndices(movedFromType, us, from)
	d.remove = append(d.remove, activeFeature{w, b})

	w, b = FeatureIndices(moved.Type(), us, to)
	d.add = append(d.add, activeFeature{w, b})

	if captured != board.NoPiece {
		capSq := to
		if m.IsEnPassant() {
			if us == board.White {
				capSq = to - 8
			} else {
				capSq = to + 8
			}
		}
		w, b = FeatureIndices(captured.Type(), captured.Color(), capSq)
		d.remove = append(d.remove, activeFeature{w, b})
	}

	if m.IsCastling() {
		them := us // rook belongs to the mover
		var rookFrom, rookTo board.Square
		if to > from {
			rookFrom = board.NewSquare(7, from.Rank())
			rookTo = board.NewSquare(5, from.Rank())
		} else {
			rookFrom = board.NewSquare(0, from.Rank())
			rookTo = board.NewSquare(3, from.Rank())
		}
		w, b = FeatureIndices(board.Rook, them, rookFrom)
		d.remove = append(d.remove, activeFeature{w, b})
		w, b = FeatureIndices(board.Rook, them, rookTo)
		d.add = append(d.add, activeFeature{w, b})
	}

	return d
}
