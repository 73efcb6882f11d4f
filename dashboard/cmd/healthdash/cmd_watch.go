package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pilot-net/healthdash/dashboard/internal/alertstore"
	"github.com/pilot-net/healthdash/dashboard/internal/healthstore"
	"github.com/pilot-net/healthdash/dashboard/internal/telemetry"
)

var (
	metricsAddr    string
	redrawInterval time.Duration

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream live health and alerts until interrupted",
		RunE:  runWatch,
	}
)

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9105")
	watchCmd.Flags().DurationVar(&redrawInterval, "redraw", time.Second, "Minimum interval between redraws")
}

func runWatch(cmd *cobra.Command, args []string) error {
	d, logger, err := newDashboard(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", metricsAddr)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	dirty := make(chan struct{}, 1)
	markDirty := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	cancelHealth := d.Health().OnChange(func(healthstore.Slice) { markDirty() })
	defer cancelHealth()
	cancelAlerts := d.Alerts().OnChange(func(alertstore.Slice) { markDirty() })
	defer cancelAlerts()

	tty := isTerminal(out)
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	var enter <-chan struct{}
	if interactive {
		enter = readLines(os.Stdin)
	}

	ticker := time.NewTicker(redrawInterval)
	defer ticker.Stop()

	pending := true
	lost := false
	for {
		select {
		case <-ctx.Done():
			if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err

		case <-dirty:
			pending = true

		case attempts := <-d.ConnectionLost():
			lost = true
			renderConnectionLost(out, attempts, interactive)

		case <-enter:
			if !lost {
				continue
			}
			lost = false
			if err := d.Reconnect(ctx); err != nil {
				logger.Warn("manual reconnect failed", "error", err)
			}
			pending = true

		case <-ticker.C:
			// Ages and loading state change without events on a terminal.
			if !pending && !tty {
				continue
			}
			if lost {
				continue
			}
			if tty {
				fmt.Fprint(out, "\033[H\033[2J")
			}
			renderSnapshot(out, d.Snapshot())
			pending = false
		}
	}
}

// readLines signals once per line read from r.
func readLines(r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		s := bufio.NewScanner(r)
		for s.Scan() {
			ch <- struct{}{}
		}
	}()
	return ch
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
