package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of a running export",
	Run: func(_ *cobra.Command, _ []string) {
		if !statusWatch {
			os.Exit(runStatus(os.Stdout))
		}

		ctx := signalContext
		if ctx == nil {
			ctx = context.Background()
		}
		if err := watchStatus(ctx, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(exitFailure)
		}
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep printing the status whenever the running export updates it")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(w io.Writer) int {
	pid, err := ReadPIDFile()
	if err != nil || !IsProcessRunning(pid) {
		fmt.Fprintln(w, "No export is running")
		return exitOK
	}

	fmt.Fprintf(w, "Export running (pid %d)\n", pid)
	info, err := ReadTaskInfo()
	if err != nil {
		return exitOK
	}
	fmt.Fprintf(w, "  Task:      %s\n", info.CurrentTask)
	fmt.Fprintf(w, "  Query:     %s\n", info.Query)
	fmt.Fprintf(w, "  Output:    %s\n", info.OutputDir)
	fmt.Fprintf(w, "  Batches:   %d/%d (%.0f%%)\n", info.CurrentBatch, info.TotalBatches, info.Progress*100)
	fmt.Fprintf(w, "  Files:     %d/%d done, %d failed\n", info.CompletedItems, info.TotalItems, info.FailedItems)
	fmt.Fprintf(w, "  Started:   %s (%s ago)\n", info.StartTime.Format(time.DateTime), time.Since(info.StartTime).Round(time.Second))
	fmt.Fprintf(w, "  Updated:   %s\n", info.LastUpdate.Format(time.DateTime))
	return exitOK
}

// watchStatus prints the status once and again on every change to the PID
// or task file, until ctx is done
func watchStatus(ctx context.Context, w io.Writer) error {
	stateDir := GetStateDir()
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(stateDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", stateDir, err)
	}

	watched := map[string]bool{
		filepath.Base(GetPIDFilePath()):  true,
		filepath.Base(GetTaskFilePath()): true,
	}

	runStatus(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Base(event.Name)] {
				continue
			}
			fmt.Fprintln(w)
			runStatus(w)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch failed: %w", err)
		}
	}
}
