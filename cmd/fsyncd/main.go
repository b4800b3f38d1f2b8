// Command fsyncd runs and drives the sync engine from the command line:
// one-shot sync runs, status reporting, and the triggers a file-watcher
// or user action would invoke (markVirtualFileForDownloadRecursively,
// forceRemoteDiscoveryNextSync, wipeErrorBlacklist).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/foldersync/fsync/internal/blacklist"
	"github.com/foldersync/fsync/internal/discover"
	"github.com/foldersync/fsync/internal/fsyncconfig"
	"github.com/foldersync/fsync/internal/journal"
	"github.com/foldersync/fsync/internal/localfs"
	"github.com/foldersync/fsync/internal/model"
	"github.com/foldersync/fsync/internal/propagate"
	"github.com/foldersync/fsync/internal/remote"
	"github.com/foldersync/fsync/internal/syncrun"
)

var rootFlag string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fsyncd",
		Short: "Bidirectional file-sync reconciliation engine",
	}
	root.PersistentFlags().StringVar(&rootFlag, "root", ".", "sync root directory")

	root.AddCommand(newSyncCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newDownloadCmd())
	root.AddCommand(newForceRemoteDiscoveryCmd())
	root.AddCommand(newWipeBlacklistCmd())
	root.AddCommand(newSetLocalDiscoveryOptionsCmd())
	return root
}

func setupLogger() *slog.Logger {
	cfg, err := fsyncconfig.LoadGlobalConfig()
	if err != nil {
		cfg = fsyncconfig.GlobalConfig{}
	}

	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var writer io.Writer = os.Stderr
	if cfg.LogFile != "" {
		writer = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		handler = slog.NewTextHandler(writer, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	}
	return slog.New(handler)
}

func journalPath(root string) string {
	return filepath.Join(root, ".fsync", "journal.db")
}

func openEngine(log *slog.Logger) (*syncrun.Engine, *journal.Journal, clockwork.Clock, func(), error) {
	root, err := filepath.Abs(rootFlag)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".fsync"), 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create .fsync dir: %w", err)
	}

	j, err := journal.Open(journalPath(root))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open journal: %w", err)
	}

	clock := clockwork.NewRealClock()
	bl, err := blacklist.New(j, clock)
	if err != nil {
		j.Close()
		return nil, nil, nil, nil, fmt.Errorf("init blacklist: %w", err)
	}

	fsys := afero.NewOsFs()
	walker := localfs.NewWalker(fsys, root)
	remoteSource := remote.NewFakeSource() // transport is an external collaborator; see DESIGN.md
	d := discover.New(j, walker, remoteSource)
	p := propagate.NewLocalPropagator(fsys, root, j, remoteSource, clock)

	engine := syncrun.New(j, d, p, bl, log)
	cleanup := func() { j.Close() }
	return engine, j, clock, cleanup, nil
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the configured root",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger()
			engine, _, clock, cleanup, err := openEngine(log)
			if err != nil {
				return err
			}
			defer cleanup()

			profile, err := fsyncconfig.LoadRootProfile(rootFlag)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := engine.Run(ctx, profile.ToSyncOptions(), clock.Now().Unix())
			if err != nil {
				return err
			}

			log.Info("sync run complete", "status", result.Status.String(), "decisions", len(result.Decisions), "errored", len(result.Errored))
			for _, d := range result.Decisions {
				fmt.Printf("%s %s\n", d.Instruction, d.Path)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show journal and blacklist summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger()
			_, j, _, cleanup, err := openEngine(log)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := j.AllRecords()
			if err != nil {
				return err
			}
			entries, err := j.AllBlacklistEntries()
			if err != nil {
				return err
			}
			fmt.Printf("journal records: %d\n", len(records))
			fmt.Printf("blacklisted paths: %d\n", len(entries))
			for _, e := range entries {
				fmt.Printf("  %s: %s (attempts=%d, retry_after=%d)\n", e.Path, e.LastError, e.Attempts, e.RetryAfter)
			}
			return nil
		},
	}
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download [prefix]",
		Short: "markVirtualFileForDownloadRecursively: materialize every placeholder under prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger()
			engine, _, _, cleanup, err := openEngine(log)
			if err != nil {
				return err
			}
			defer cleanup()
			return engine.MarkVirtualFileForDownloadRecursively(args[0])
		},
	}
}

func newForceRemoteDiscoveryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-remote-discovery",
		Short: "Force a full remote traversal on the next sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger()
			engine, _, _, cleanup, err := openEngine(log)
			if err != nil {
				return err
			}
			defer cleanup()
			return engine.ForceRemoteDiscoveryNextSync()
		},
	}
}

func newWipeBlacklistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wipe-blacklist",
		Short: "Clear the error blacklist so retries happen immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger()
			engine, _, _, cleanup, err := openEngine(log)
			if err != nil {
				return err
			}
			defer cleanup()
			return engine.WipeErrorBlacklist()
		},
	}
}

func newSetLocalDiscoveryOptionsCmd() *cobra.Command {
	var modeFlag string
	cmd := &cobra.Command{
		Use:   "set-local-discovery [prefix...]",
		Short: "setLocalDiscoveryOptions: choose how future sync runs walk the local side",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode model.LocalDiscoveryMode
			switch strings.ToLower(modeFlag) {
			case "filesystem":
				mode = model.FilesystemOnly
			case "database":
				mode = model.DatabaseOnly
			case "both", "":
				mode = model.DatabaseAndFilesystem
			default:
				return fmt.Errorf("unknown local discovery mode %q (want filesystem, database, or both)", modeFlag)
			}

			log := setupLogger()
			engine, _, _, cleanup, err := openEngine(log)
			if err != nil {
				return err
			}
			defer cleanup()
			return engine.SetLocalDiscoveryOptions(mode, args)
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "both", "local discovery mode: filesystem, database, or both")
	return cmd
}
