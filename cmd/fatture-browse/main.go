// Command fatture-browse scrolls through the invoices in the terminal. It
// reads from the same backend as the server and reloads when the server
// announces a change over AMQP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/natefinch/lumberjack.v2"

	"fatture/internal/amqp"
	"fatture/internal/backend"
	"fatture/internal/cli"
	"fatture/internal/config"
	"fatture/internal/core"
	"fatture/internal/log"
	"fatture/internal/tui"
)

func main() {
	var (
		status  = flag.String("status", "", "show only invoices with this status (Open, Paid, Refunded, Cancelled)")
		query   = flag.String("q", "", "show only invoices whose merchant or order number contains this text")
		logFile = flag.String("log", "", "write logs to this file instead of discarding them")
	)
	flag.Parse()

	cli.LoadEnvFile()

	// The terminal belongs to the UI, logs go to a file or nowhere.
	var w io.Writer = io.Discard
	if *logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}
		defer rotating.Close()
		w = rotating
	}
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), w)

	filter := core.Filter{Query: *query}
	if *status != "" {
		st, err := core.ParseStatus(*status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -status: %v\n", err)
			os.Exit(2)
		}
		filter.Status = st
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, filter, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, filter core.Filter, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	load := func(ctx context.Context) ([]core.Invoice, error) {
		return result.Backend.ListInvoices(ctx, filter)
	}
	model := tui.NewModel(ctx, load,
		tui.WithOverscan(cfg.ListOverscan),
		tui.WithLogger(logger))

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	if result.Notifier != nil {
		go func() {
			err := result.Notifier.Consume(ctx, func(context.Context, *amqp.InvoicesChangedMessage) error {
				p.Send(tui.ReloadMsg{})
				return nil
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("AMQP consumer stopped", log.FieldError, err)
			}
		}()
	}

	_, err = p.Run()
	return err
}
