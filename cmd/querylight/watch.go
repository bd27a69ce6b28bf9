package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/checker"
)

// settleDelay lets editors finish writing before the file is re-read.
const settleDelay = 100 * time.Millisecond

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-check a query file whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			report := func(path string) {
				issues, err := checker.CheckFile(path)
				if err != nil {
					a.logger.Error("check failed", zap.String("file", path), zap.Error(err))
					return
				}
				printWatchReport(out, path, issues)
			}
			report(args[0])
			return watchFile(cmd.Context(), a.logger, args[0], report)
		},
	}
}

func printWatchReport(out io.Writer, path string, issues []checker.Issue) {
	if len(issues) == 0 {
		fmt.Fprintf(out, "no issues found in %s\n", path)
		return
	}
	fmt.Fprintf(out, "found %d issues in %s\n", len(issues), path)
	for _, issue := range issues {
		fmt.Fprintf(out, "- %s\n", issue.String())
	}
}

// watchFile calls onChange each time path is written or replaced, until ctx
// is done. The parent directory is watched so that editors replacing the
// file by rename are still seen.
func watchFile(ctx context.Context, logger *zap.Logger, path string, onChange func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("error adding directory to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			time.Sleep(settleDelay)
			onChange(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		}
	}
}
