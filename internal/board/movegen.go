package board

// GenerateLegalMoves generates all legal moves for the position directly,
// using pin masks and a check/evasion mask computed once per node. No
// generated move is ever pseudo-legal: a post-hoc make/unmake filter is not
// used for anything other than the en-passant discovered-check edge case,
// which needs a position-shaped occupancy check regardless of approach.
func (p *Position) GenerateLegalMoves() *MoveList {
	ml := NewMoveList()
	ctx := p.legalContext()
	p.generateLegal(ml, ctx, true)
	return ml
}

// GenerateCaptures generates all legal capture (and promotion) moves, for
// use in quiescence search.
func (p *Position) GenerateCaptures() *MoveList {
	ml := NewMoveList()
	ctx := p.legalContext()
	p.generateLegal(ml, ctx, false)
	return ml
}

// GeneratePseudoLegalMoves is retained for perft cross-checks and debugging
// tools; it is not used by search or by GenerateLegalMoves. It ignores pins
// and check, but king moves, castling and en passant still go through their
// own attacked-square tests, so the set is not fully unfiltered.
func (p *Position) GeneratePseudoLegalMoves() *MoveList {
	ml := NewMoveList()
	ctx := legalCtx{checkMask: Universe, pinned: 0, numCheckers: 0}
	p.generateLegal(ml, ctx, true)
	return ml
}

// legalCtx holds the once-per-node state that constrains move generation:
// the set of squares a non-king move may land on to resolve check, and the
// bitboard of pieces pinned to the king (each restricted to its pin line).
type legalCtx struct {
	checkMask   Bitboard
	pinned      Bitboard
	numCheckers int
	kingSq      Square
}

// legalContext computes the check/evasion mask and pin mask for the side to
// move. A single pass over the enemy sliders on the king's rays classifies
// each as "no blockers" (the slider itself is a checker), "exactly one of our
// pieces in the way" (a pin), or anything else (an enemy blocker or two or
// more pieces: neither pin nor check), with pawn/knight checkers added
// separately.
func (p *Position) legalContext() legalCtx {
	us := p.SideToMove
	them := us.Other()
	ksq := p.KingSquare[us]
	ourPieces := p.Occupied[us]
	theirPieces := p.Occupied[them]

	var checkMask Bitboard
	var pinned Bitboard
	numCheckers := 0

	sliders := (RookAttacks(ksq, 0) & (p.Pieces[them][Rook] | p.Pieces[them][Queen])) |
		(BishopAttacks(ksq, 0) & (p.Pieces[them][Bishop] | p.Pieces[them][Queen]))

	for sliders != 0 {
		sniper := sliders.PopLSB()
		between := Between(ksq, sniper) & (ourPieces | theirPieces)
		if between == 0 {
			numCheckers++
			checkMask |= SquareBB(sniper) | Between(ksq, sniper)
			continue
		}
		if between&theirPieces != 0 {
			continue // an enemy piece blocks first: no pin, no check
		}
		if between.PopCount() == 1 {
			pinned |= between
		}
	}

	pawnCheckers := PawnAttacks(ksq, us) & p.Pieces[them][Pawn]
	knightCheckers := KnightAttacks(ksq) & p.Pieces[them][Knight]
	if pawnCheckers != 0 {
		numCheckers++
		checkMask |= pawnCheckers
	}
	if knightCheckers != 0 {
		numCheckers++
		checkMask |= knightCheckers
	}

	if numCheckers == 0 {
		checkMask = Universe
	}

	return legalCtx{checkMask: checkMask, pinned: pinned, numCheckers: numCheckers, kingSq: ksq}
}

// destinationMask returns the squares a piece standing on `from` may legally
// move to, given the attack bitboard it would otherwise generate: gated by
// the check-evasion mask, and additionally restricted to its pin ray if it
// is pinned to the king.
func (ctx legalCtx) destinationMask(from Square, attacks Bitboard) Bitboard {
	mask := attacks & ctx.checkMask
	if ctx.pinned&SquareBB(from) != 0 {
		mask &= Line(ctx.kingSq, from)
	}
	return mask
}

// generateLegal generates the legal moves for the side to move: every legal
// move when includeQuiet is true, otherwise only captures and promotions.
// includeQuiet controls whether non-capturing, non-promoting moves are
// emitted.
func (p *Position) generateLegal(ml *MoveList, ctx legalCtx, includeQuiet bool) {
	us := p.SideToMove
	them := us.Other()
	occupied := p.AllOccupied
	enemies := p.Occupied[them]

	p.generateKingMoves(ml, us, includeQuiet)
	if includeQuiet && ctx.numCheckers == 0 {
		p.generateCastlingMoves(ml, us) // castling is never a capture
	}

	if ctx.numCheckers >= 2 {
		return // double check: only the king can move
	}

	p.generatePawnMoves(ml, ctx, us, them, enemies, occupied, includeQuiet)

	for pt := Knight; pt <= Queen; pt++ {
		pieces := p.Pieces[us][pt]
		for pieces != 0 {
			from := pieces.PopLSB()
			attacks := pieceAttacks(pt, from, occupied) &^ p.Occupied[us]
			dest := ctx.destinationMask(from, attacks)
			if !includeQuiet {
				dest &= enemies
			}
			for dest != 0 {
				to := dest.PopLSB()
				ml.Add(NewMove(from, to))
			}
		}
	}
}

func pieceAttacks(pt PieceType, from Square, occupied Bitboard) Bitboard {
	switch pt {
	case Knight:
		return KnightAttacks(from)
	case Bishop:
		return BishopAttacks(from, occupied)
	case Rook:
		return RookAttacks(from, occupied)
	case Queen:
		return QueenAttacks(from, occupied)
	}
	return 0
}

// generatePawnMoves generates all legal pawn moves, applying the
// check/evasion mask and pin restriction to every destination square. En
// passant is handled separately because removing two pawns from the same
// rank can expose the king to a rook/queen along that rank even when
// neither pawn is individually pinned — a case no per-piece pin mask
// captures, so it falls back to a direct occupancy check.
func (p *Position) generatePawnMoves(ml *MoveList, ctx legalCtx, us, them Color, enemies, occupied Bitboard, includeQuiet bool) {
	pawns := p.Pieces[us][Pawn]
	empty := ^occupied

	var push1, push2, attackL, attackR Bitboard
	var promotionRank Bitboard
	var pushDir int

	if us == White {
		push1 = pawns.North() & empty
		push2 = (push1 & Rank3).North() & empty
		attackL = pawns.NorthWest() & enemies
		attackR = pawns.NorthEast() & enemies
		promotionRank = Rank8
		pushDir = 8
	} else {
		push1 = pawns.South() & empty
		push2 = (push1 & Rank6).South() & empty
		attackL = pawns.SouthWest() & enemies
		attackR = pawns.SouthEast() & enemies
		promotionRank = Rank1
		pushDir = -8
	}

	emit := func(from, to Square) {
		if ctx.checkMask&SquareBB(to) == 0 {
			return
		}
		if ctx.pinned&SquareBB(from) != 0 && Line(ctx.kingSq, from)&SquareBB(to) == 0 {
			return
		}
		ml.Add(NewMove(from, to))
	}
	emitPromo := func(from, to Square) {
		if ctx.checkMask&SquareBB(to) == 0 {
			return
		}
		if ctx.pinned&SquareBB(from) != 0 && Line(ctx.kingSq, from)&SquareBB(to) == 0 {
			return
		}
		addPromotions(ml, from, to)
	}

	if includeQuiet {
		nonPromo := push1 & ^promotionRank
		for nonPromo != 0 {
			to := nonPromo.PopLSB()
			emit(Square(int(to)-pushDir), to)
		}
		for push2 != 0 {
			to := push2.PopLSB()
			emit(Square(int(to)-2*pushDir), to)
		}
	}

	nonPromoL := attackL & ^promotionRank
	for nonPromoL != 0 {
		to := nonPromoL.PopLSB()
		emit(Square(int(to)-pushDir+1), to)
	}
	nonPromoR := attackR & ^promotionRank
	for nonPromoR != 0 {
		to := nonPromoR.PopLSB()
		emit(Square(int(to)-pushDir-1), to)
	}

	promoPush := push1 & promotionRank
	for promoPush != 0 {
		to := promoPush.PopLSB()
		emitPromo(Square(int(to)-pushDir), to)
	}
	promoL := attackL & promotionRank
	for promoL != 0 {
		to := promoL.PopLSB()
		emitPromo(Square(int(to)-pushDir+1), to)
	}
	promoR := attackR & promotionRank
	for promoR != 0 {
		to := promoR.PopLSB()
		emitPromo(Square(int(to)-pushDir-1), to)
	}

	// En passant.
	if p.EnPassant == NoSquare {
		return
	}
	epBB := SquareBB(p.EnPassant)
	var epAttackers Bitboard
	if us == White {
		epAttackers = (epBB.SouthWest() | epBB.SouthEast()) & pawns
	} else {
		epAttackers = (epBB.NorthWest() | epBB.NorthEast()) & pawns
	}
	capturedSq := p.EnPassant - Square(pushDir)
	for epAttackers != 0 {
		from := epAttackers.PopLSB()
		// The capture must resolve check like any other move: either it
		// captures the checking pawn, or it blocks/captures on the checker's
		// ray, or there is no check at all.
		if ctx.checkMask&(SquareBB(p.EnPassant)|SquareBB(capturedSq)) == 0 && ctx.numCheckers != 0 {
			continue
		}
		if !p.epLeavesKingSafe(from, p.EnPassant, capturedSq, us, them) {
			continue
		}
		ml.Add(NewEnPassant(from, p.EnPassant))
	}
}

// epLeavesKingSafe checks the horizontal-discovered-check edge case: with
// both the capturing pawn and the captured pawn removed from the board in
// one move, does an enemy rook or queen now see the king along the rank?
func (p *Position) epLeavesKingSafe(from, to, capturedSq Square, us, them Color) bool {
	ksq := p.KingSquare[us]
	occAfter := (p.AllOccupied &^ SquareBB(from) &^ SquareBB(capturedSq)) | SquareBB(to)
	attackers := RookAttacks(ksq, occAfter) & (p.Pieces[them][Rook] | p.Pieces[them][Queen])
	if attackers != 0 {
		return false
	}
	attackers = BishopAttacks(ksq, occAfter) & (p.Pieces[them][Bishop] | p.Pieces[them][Queen])
	return attackers == 0
}

// addPromotions adds all four promotion moves.
func addPromotions(ml *MoveList, from, to Square) {
	ml.Add(NewPromotion(from, to, Queen))
	ml.Add(NewPromotion(from, to, Rook))
	ml.Add(NewPromotion(from, to, Bishop))
	ml.Add(NewPromotion(from, to, Knight))
}

// generateKingMoves generates king moves (non-castling), excluding any
// destination attacked by the opponent. The king itself is removed from the
// occupancy before testing so a slider it was blocking can't be mistaken
// for not attacking the destination square.
func (p *Position) generateKingMoves(ml *MoveList, us Color, includeQuiet bool) {
	them := us.Other()
	from := p.KingSquare[us]
	attacks := KingAttacks(from) &^ p.Occupied[us]
	if !includeQuiet {
		attacks &= p.Occupied[them]
	}
	occWithoutKing := p.AllOccupied &^ SquareBB(from)

	for attacks != 0 {
		to := attacks.PopLSB()
		if p.AttackersByColor(to, them, occWithoutKing) != 0 {
			continue
		}
		ml.Add(NewMove(from, to))
	}
}

// generateCastlingMoves generates castling moves. Only called when the side
// to move is not in check.
func (p *Position) generateCastlingMoves(ml *MoveList, us Color) {
	them := us.Other()

	if us == White {
		if p.CastlingRights&WhiteKingSideCastle != 0 {
			if p.AllOccupied&((1<<F1)|(1<<G1)) == 0 {
				if !p.IsSquareAttacked(F1, them) && !p.IsSquareAttacked(G1, them) {
					ml.Add(NewCastling(E1, G1))
				}
			}
		}
		if p.CastlingRights&WhiteQueenSideCastle != 0 {
			if p.AllOccupied&((1<<B1)|(1<<C1)|(1<<D1)) == 0 {
				if !p.IsSquareAttacked(D1, them) && !p.IsSquareAttacked(C1, them) {
					ml.Add(NewCastling(E1, C1))
				}
			}
		}
	} else {
		if p.CastlingRights&BlackKingSideCastle != 0 {
			if p.AllOccupied&((1<<F8)|(1<<G8)) == 0 {
				if !p.IsSquareAttacked(F8, them) && !p.IsSquareAttacked(G8, them) {
					ml.Add(NewCastling(E8, G8))
				}
			}
		}
		if p.CastlingRights&BlackQueenSideCastle != 0 {
			if p.AllOccupied&((1<<B8)|(1<<C8)|(1<<D8)) == 0 {
				if !p.IsSquareAttacked(D8, them) && !p.IsSquareAttacked(C8, them) {
					ml.Add(NewCastling(E8, C8))
				}
			}
		}
	}
}

// IsLegal reports whether a move already known to be pseudo-legal (e.g. one
// parsed from UCI text) is legal in the current position. It re-derives the
// same pin/check context GenerateLegalMoves uses rather than making and
// unmaking the move.
func (p *Position) IsLegal(m Move) bool {
	us := p.SideToMove
	them := us.Other()
	from := m.From()
	ksq := p.KingSquare[us]

	if from == ksq {
		if m.IsCastling() {
			return true
		}
		occ := p.AllOccupied &^ SquareBB(from)
		return p.AttackersByColor(m.To(), them, occ) == 0
	}

	ctx := p.legalContext()
	if ctx.numCheckers >= 2 {
		return false
	}

	if m.IsEnPassant() {
		capturedSq := m.To() - Square(pawnPushDir(us))
		if ctx.checkMask&(SquareBB(m.To())|SquareBB(capturedSq)) == 0 && ctx.numCheckers != 0 {
			return false
		}
		return p.epLeavesKingSafe(from, m.To(), capturedSq, us, them)
	}

	if ctx.checkMask&SquareBB(m.To()) == 0 {
		return false
	}
	if ctx.pinned&SquareBB(from) != 0 && Line(ctx.kingSq, from)&SquareBB(m.To()) == 0 {
		return false
	}
	return true
}

func pawnPushDir(c Color) int {
	if c == White {
		return 8
	}
	return -8
}

// MakeMove applies a move to the position and returns undo information.
func (p *Position) MakeMove(m Move) UndoInfo {
	undo := UndoInfo{
		CapturedPiece:  NoPiece,
		CastlingRights: p.CastlingRights,
		EnPassant:      p.EnPassant,
		HalfMoveClock:  p.HalfMoveClock,
		Hash:           p.Hash,
		PawnKey:        p.PawnKey,
		Checkers:       p.Checkers,
		Valid:          false,
	}

	us := p.SideToMove
	them := us.Other()
	from := m.From()
	to := m.To()
	piece := p.PieceAt(from)

	// Safety check - if no piece at from square, return without modifying position
	if piece == NoPiece {
		return undo
	}

	// Mark as valid since we have a piece and will apply the move
	undo.Valid = true
	pt := piece.Type()

	// Update hash for side to move
	p.Hash ^= zobristSideToMove

	// Update hash for castling rights (will be updated again below if they change)
	p.Hash ^= zobristCastling[p.CastlingRights]

	// Update hash for en passant
	if epHashable(p, p.EnPassant, us) {
		p.Hash ^= zobristEnPassant[p.EnPassant.File()]
	}

	// Clear en passant
	p.EnPassant = NoSquare

	// Handle captures
	if m.IsEnPassant() {
		// En passant capture
		var capturedSq Square
		if us == White {
			capturedSq = to - 8
		} else {
			capturedSq = to + 8
		}
		undo.CapturedPiece = p.removePiece(capturedSq)
		p.Hash ^= zobristPiece[them][Pawn][capturedSq]
		p.PawnKey ^= zobristPiece[them][Pawn][capturedSq]
	} else if captured := p.PieceAt(to); captured != NoPiece {
		// Normal capture
		undo.CapturedPiece = captured
		p.removePiece(to)
		p.Hash ^= zobristPiece[them][captured.Type()][to]
		if captured.Type() == Pawn {
			p.PawnKey ^= zobristPiece[them][Pawn][to]
		}
	}

	// Move the piece
	p.movePiece(from, to)
	p.Hash ^= zobristPiece[us][pt][from]
	p.Hash ^= zobristPiece[us][pt][to]
	if pt == Pawn {
		p.PawnKey ^= zobristPiece[us][Pawn][from] ^ zobristPiece[us][Pawn][to]
	}

	// Handle promotion
	if m.IsPromotion() {
		promoPt := m.Promotion()
		// Remove pawn, add promoted piece
		p.Pieces[us][Pawn] &^= SquareBB(to)
		p.Pieces[us][promoPt] |= SquareBB(to)
		p.Hash ^= zobristPiece[us][Pawn][to]
		p.Hash ^= zobristPiece[us][promoPt][to]
		p.PawnKey ^= zobristPiece[us][Pawn][to]
	}

	// Handle castling
	if m.IsCastling() {
		var rookFrom, rookTo Square
		if to > from {
			// Kingside
			rookFrom = NewSquare(7, from.Rank())
			rookTo = NewSquare(5, from.Rank())
		} else {
			// Queenside
			rookFrom = NewSquare(0, from.Rank())
			rookTo = NewSquare(3, from.Rank())
		}
		p.movePiece(rookFrom, rookTo)
		p.Hash ^= zobristPiece[us][Rook][rookFrom]
		p.Hash ^= zobristPiece[us][Rook][rookTo]
	}

	// Update castling rights
	if pt == King {
		if us == White {
			p.CastlingRights &^= WhiteKingSideCastle | WhiteQueenSideCastle
		} else {
			p.CastlingRights &^= BlackKingSideCastle | BlackQueenSideCastle
		}
	}

	// Rook moves or captures affect castling
	if from == A1 || to == A1 {
		p.CastlingRights &^= WhiteQueenSideCastle
	}
	if from == H1 || to == H1 {
		p.CastlingRights &^= WhiteKingSideCastle
	}
	if from == A8 || to == A8 {
		p.CastlingRights &^= BlackQueenSideCastle
	}
	if from == H8 || to == H8 {
		p.CastlingRights &^= BlackKingSideCastle
	}

	// Update hash for new castling rights
	p.Hash ^= zobristCastling[p.CastlingRights]

	// Set en passant square for double pawn push. Only hashed when the
	// opponent (who moves next) actually has a pawn that can capture there;
	// see zobrist.go's epHashable for why this keeps the incremental hash
	// in agreement with a from-scratch recompute.
	if pt == Pawn && abs(int(to)-int(from)) == 16 {
		epSquare := Square((int(from) + int(to)) / 2)
		p.EnPassant = epSquare
		if epHashable(p, epSquare, them) {
			p.Hash ^= zobristEnPassant[epSquare.File()]
		}
	}

	// Update half-move clock
	if pt == Pawn || undo.CapturedPiece != NoPiece {
		p.HalfMoveClock = 0
	} else {
		p.HalfMoveClock++
	}

	// Update full-move number
	if us == Black {
		p.FullMoveNumber++
	}

	// Switch side to move
	p.SideToMove = them

	// Update checkers
	p.UpdateCheckers()

	return undo
}

// UnmakeMove undoes a move using the stored undo information.
func (p *Position) UnmakeMove(m Move, undo UndoInfo) {
	them := p.SideToMove
	us := them.Other()
	from := m.From()
	to := m.To()

	// Restore state
	p.CastlingRights = undo.CastlingRights
	p.EnPassant = undo.EnPassant
	p.HalfMoveClock = undo.HalfMoveClock
	p.Hash = undo.Hash
	p.PawnKey = undo.PawnKey
	p.Checkers = undo.Checkers
	p.SideToMove = us

	if us == Black {
		p.FullMoveNumber--
	}

	// Handle promotion first (before moving piece back)
	if m.IsPromotion() {
		promoPt := m.Promotion()
		// Remove promoted piece, restore pawn
		p.Pieces[us][promoPt] &^= SquareBB(to)
		p.Pieces[us][Pawn] |= SquareBB(to)
	}

	// Move piece back
	p.movePiece(to, from)

	// Handle castling rook
	if m.IsCastling() {
		var rookFrom, rookTo Square
		if to > from {
			// Kingside
			rookFrom = NewSquare(7, from.Rank())
			rookTo = NewSquare(5, from.Rank())
		} else {
			// Queenside
			rookFrom = NewSquare(0, from.Rank())
			rookTo = NewSquare(3, from.Rank())
		}
		p.movePiece(rookTo, rookFrom)
	}

	// Restore captured piece
	if undo.CapturedPiece != NoPiece {
		if m.IsEnPassant() {
			var capturedSq Square
			if us == White {
				capturedSq = to - 8
			} else {
				capturedSq = to + 8
			}
			p.setPiece(undo.CapturedPiece, capturedSq)
		} else {
			p.setPiece(undo.CapturedPiece, to)
		}
	}
}

// HasLegalMoves returns true if the side to move has any legal moves.
func (p *Position) HasLegalMoves() bool {
	return p.GenerateLegalMoves().Len() > 0
}

// IsCheckmate returns true if the position is checkmate.
func (p *Position) IsCheckmate() bool {
	return p.InCheck() && !p.HasLegalMoves()
}

// IsStalemate returns true if the position is stalemate.
func (p *Position) IsStalemate() bool {
	return !p.InCheck() && !p.HasLegalMoves()
}

// IsDraw returns true if the position is a draw (stalemate, 50-move, insufficient material).
func (p *Position) IsDraw() bool {
	if p.IsStalemate() {
		return true
	}
	if p.HalfMoveClock >= 100 {
		return true
	}
	return p.IsInsufficientMaterial()
}

// IsInsufficientMaterial returns true if neither side can checkmate.
func (p *Position) IsInsufficientMaterial() bool {
	// If there are any pawns, rooks, or queens, sufficient material
	if p.Pieces[White][Pawn]|p.Pieces[Black][Pawn] != 0 ||
		p.Pieces[White][Rook]|p.Pieces[Black][Rook] != 0 ||
		p.Pieces[White][Queen]|p.Pieces[Black][Queen] != 0 {
		return false
	}

	// Count minor pieces
	wKnights := p.Pieces[White][Knight].PopCount()
	wBishops := p.Pieces[White][Bishop].PopCount()
	bKnights := p.Pieces[Black][Knight].PopCount()
	bBishops := p.Pieces[Black][Bishop].PopCount()

	// K vs K
	if wKnights+wBishops+bKnights+bBishops == 0 {
		return true
	}

	// K+minor vs K
	if wKnights+wBishops <= 1 && bKnights+bBishops == 0 {
		return true
	}
	if bKnights+bBishops <= 1 && wKnights+wBishops == 0 {
		return true
	}

	return false
}
