// Package checker validates query files, one query per line.
package checker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
)

// Issue is a diagnostic located in a query file. Columns are 1-based and
// count characters.
type Issue struct {
	File      string          `json:"file"`
	Line      int             `json:"line"`
	Column    int             `json:"column"`
	EndColumn int             `json:"end_column"`
	Severity  engine.Severity `json:"severity"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Query     string          `json:"query"`
}

func (i Issue) IsError() bool {
	return i.Severity == engine.SeverityError
}

func (i Issue) String() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s (%s)", i.File, i.Line, i.Column, i.Severity, i.Message, i.Code)
}

var desiredExtensions = map[string]bool{
	".qlq":   true,
	".query": true,
}

func hasDesiredExtension(path string) bool {
	return desiredExtensions[filepath.Ext(path)]
}

// CheckFile checks every query of the file at path.
func CheckFile(path string) ([]Issue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return CheckSource(path, f)
}

// CheckSource checks the queries read from r. Blank lines and lines starting
// with '#' are skipped. name is reported as the file of each issue.
func CheckSource(name string, r io.Reader) ([]Issue, error) {
	var issues []Issue

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		query := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(query)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		a := engine.Analyze(query)
		for _, d := range a.Diagnostics {
			issues = append(issues, Issue{
				File:      name,
				Line:      line,
				Column:    column(query, d.Start),
				EndColumn: column(query, d.End),
				Severity:  d.Severity,
				Code:      d.Code,
				Message:   d.Message,
				Query:     query,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return issues, fmt.Errorf("read %s: %w", name, err)
	}
	return issues, nil
}

func column(text string, offset int) int {
	offset = min(max(offset, 0), len(text))
	return utf8.RuneCountInString(text[:offset]) + 1
}

// Options tune CheckPaths.
type Options struct {
	// Progress receives a progress bar while directories are checked. Nil
	// disables it.
	Progress io.Writer
	Workers  int
}

// CheckPaths checks files and directories. Directories are walked for
// .qlq and .query files, which are checked concurrently; explicitly named
// files are checked whatever their extension. Issues are returned ordered
// by file, line and column.
func CheckPaths(ctx context.Context, logger *zap.Logger, paths []string, opts Options) ([]Issue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() && hasDesiredExtension(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}

	issues, err := checkFiles(ctx, logger, files, opts)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return issues, nil
}

type result struct {
	issues []Issue
	err    error
}

func checkFiles(ctx context.Context, logger *zap.Logger, files []string, opts Options) ([]Issue, error) {
	maxWorkers := opts.Workers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	sem := make(chan struct{}, maxWorkers)
	results := make(chan result, len(files))

	var bar *progressbar.ProgressBar
	if opts.Progress != nil && len(files) > 1 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("checking"),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))
	}

	started := 0
	for _, fp := range files {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		started++
		go func(fp string) {
			defer func() { <-sem }()

			fileIssues, err := CheckFile(fp)
			if err != nil {
				logger.Error("Error checking file", zap.String("file", fp), zap.Error(err))
			}
			results <- result{issues: fileIssues, err: err}
			if bar != nil {
				_ = bar.Add(1)
			}
		}(fp)
	}

	var issues []Issue
	var firstErr error
	for i := 0; i < started; i++ {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		issues = append(issues, r.issues...)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(opts.Progress)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return issues, firstErr
}
