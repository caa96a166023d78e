// ChessPlay is a UCI chess engine. This is a thin convenience entry point;
// `cmd/chessplay-uci` is the canonical binary.
package main

import "github.com/hailam/chessplay/internal/app"

func main() {
	app.Run()
}
