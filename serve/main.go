// Command ghostlined is the completion daemon. Editor clients connect over
// a Unix socket, send buffer events as JSON lines, and receive render and
// insert commands back.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	socketFlag := flag.String("socket", "", "unix socket path (overrides GHOSTLINE_SOCKET)")
	flag.Parse()

	if *showVersion {
		fmt.Println("ghostlined", version)
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	sockPath := *socketFlag
	if sockPath == "" {
		sockPath = resolveSocketPath()
	}

	srv, err := NewServer(sockPath)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		srv.Close()
		os.Exit(0)
	}()

	slog.Info("listening", "socket", sockPath, "version", version)
	if err := srv.Serve(); err != nil {
		slog.Error("server error", "error", err)
		srv.Close()
		os.Exit(1)
	}
}

func resolveSocketPath() string {
	if p := os.Getenv("GHOSTLINE_SOCKET"); p != "" {
		return p
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/ghostline.sock"
	}
	return fmt.Sprintf("/tmp/ghostline-%d.sock", os.Getuid())
}
