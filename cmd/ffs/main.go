// Command ffs mounts a versioned, flat key-value store as a POSIX
// filesystem via FUSE.
//
// Grounded on the teacher's cmd/run.go: a single cobra.Command as the
// program's entry point, structured logging configured up front, and
// a non-zero exit on failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/markgoddard/ffs/fsadapter"
	"github.com/markgoddard/ffs/internal/fuseserver"
	"github.com/markgoddard/ffs/internal/logging"
	"github.com/markgoddard/ffs/metrics"
	"github.com/markgoddard/ffs/store/badger"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultDataDir and defaultLogLevel are fixed rather than flags: the
// CLI contract (spec.md §6) is exactly one positional argument, the
// mount point, with no flags.
const (
	defaultDataDir  = "ffs-data"
	defaultLogLevel = logging.Info
)

func rootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ffs <mountpoint>",
		Short: "Mount a versioned key-value store as a POSIX filesystem",
		Long: `ffs mounts a badger-backed, flat key-value store as a POSIX
filesystem over FUSE. Every filesystem operation runs as one bounded,
optimistic STM transaction against the store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
}

func run(mountpoint string) error {
	// A fresh mount session id, attached to every log line for this
	// run, so multiple mount/unmount cycles against the same data
	// directory can be told apart in aggregated logs.
	var log logrus.FieldLogger = logging.New(defaultLogLevel, "pretty")
	log = log.WithField("session_id", uuid.New().String())

	st, err := badger.Open(badger.Options{Dir: defaultDataDir, Logger: log})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	collectors := metrics.NewPrometheusCollectors()
	adapter := fsadapter.New(st,
		fsadapter.WithMetrics(collectors),
		fsadapter.WithExponentialBackoff(time.Millisecond, 100*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := adapter.Init(ctx); err != nil {
		return fmt.Errorf("initialize root: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info("received shutdown signal")
		cancel()
	}()

	return fuseserver.Mount(ctx, adapter, mountpoint, log)
}
