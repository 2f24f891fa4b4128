package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/amirk1998/quicknotes/internal/config"
	"github.com/amirk1998/quicknotes/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quicknotes: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logging.New(os.Stderr, cfg.LogLevel)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Close()

	app.startWorkers(ctx)

	// Restore the previous session before the first menu is drawn.
	app.session.Initialize(ctx)

	sh := newShell(app, os.Stdin, os.Stdout)
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		sh.readPassword = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stdout)
			return string(b), err
		}
	}

	fmt.Println("===========================================")
	fmt.Println("  QuickNotes")
	fmt.Println("===========================================")

	return sh.run(ctx)
}
