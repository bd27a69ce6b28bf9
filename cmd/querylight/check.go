package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/checker"
)

var errInvalidQueries = errors.New("invalid queries found")

func newCheckCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Check query files (.qlq, .query), one query per line; stdin when no path is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				issues []checker.Issue
				err    error
			)
			if len(args) == 0 {
				issues, err = checker.CheckSource("<stdin>", cmd.InOrStdin())
			} else {
				issues, err = checker.CheckPaths(cmd.Context(), a.logger, args, checker.Options{Progress: progressWriter(asJSON)})
			}
			if err != nil {
				return err
			}
			return reportIssues(cmd, issues, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func progressWriter(asJSON bool) io.Writer {
	if asJSON || color.NoColor {
		return nil
	}
	return os.Stderr
}

func reportIssues(cmd *cobra.Command, issues []checker.Issue, asJSON bool) error {
	out := cmd.OutOrStdout()
	errorsFound := 0
	for _, issue := range issues {
		if issue.IsError() {
			errorsFound++
		}
	}

	if asJSON {
		if issues == nil {
			issues = []checker.Issue{}
		}
		if err := writeJSON(out, issues); err != nil {
			return err
		}
	} else {
		for _, issue := range issues {
			fmt.Fprintln(out, issue.String())
		}
		fmt.Fprintf(out, "%d issue(s), %d error(s)\n", len(issues), errorsFound)
	}

	if errorsFound > 0 {
		return fmt.Errorf("%w: %d", errInvalidQueries, errorsFound)
	}
	return nil
}
