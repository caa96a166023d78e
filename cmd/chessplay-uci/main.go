// Command chessplay-uci runs the engine as a UCI process, reading commands
// from stdin and writing responses to stdout until `quit`.
package main

import "github.com/hailam/chessplay/internal/app"

func main() {
	app.Run()
}
