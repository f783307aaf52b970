// Command ghostline-repl is an interactive playground for inline
// completions. It edits a small in-terminal buffer, shows ghost text dimmed
// after the cursor, and writes structured TOML session entries to stdout.
//
// Keys: Tab accepts, Esc dismisses, Ctrl-G triggers manually.
//
// Usage:
//
//	./ghostline-repl              # interactive, TOML on screen
//	./ghostline-repl > log.toml   # buffer on screen, TOML to file
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	ghostline "github.com/hollowbyte/ghostline"
	"github.com/hollowbyte/ghostline/complete"
	"github.com/hollowbyte/ghostline/ollama"
)

func main() {
	verbose := flag.Bool("verbose", false, "enable debug logging")
	filetype := flag.String("filetype", "go", "language to report to the completion engine")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := ghostline.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, w := range ghostline.ValidateConfig(cfg) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	tty := editor.Tty()
	fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "ghostline repl  (%s, model %s)\r\n", *filetype, ghostline.ResolveModel(cfg))
	fmt.Fprintf(tty, "tab: accept  esc: dismiss  ctrl-g: trigger  ctrl-d: quit\r\n\r\n")

	provider := complete.NewContextProvider(cfg, nil, nil)
	defer provider.Close()

	orc := complete.New(cfg, ollama.NewClient(cfg), editor, editor, provider)
	defer orc.Close()

	out := termWriter(os.Stdout)
	log := &sessionLog{w: out}

	editor.Run(orc, *filetype, log)
}
