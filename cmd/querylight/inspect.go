package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/client"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/querylang"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/render"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTokenizeCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tokenize <query>",
		Short: "Print the tokens of a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, gaps := querylang.Scan(args[0])
			out := cmd.OutOrStdout()
			if asJSON {
				if tokens == nil {
					tokens = []querylang.Token{}
				}
				if gaps == nil {
					gaps = []querylang.Gap{}
				}
				return writeJSON(out, map[string]any{"tokens": tokens, "gaps": gaps})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, t := range tokens {
				fmt.Fprintf(tw, "%s\t%d:%d\t%s\n", t.Type, t.Start, t.End, t.Text)
			}
			for _, g := range gaps {
				fmt.Fprintf(tw, "GAP\t%d:%d\t%s\n", g.Start, g.End, g.Text)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newParseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query>",
		Short: "Print the syntax tree of a query as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), querylang.Parse(args[0]))
		},
	}
}

func newHighlightCmd(a *app) *cobra.Command {
	var (
		serverURL string
		apiToken  string
	)
	cmd := &cobra.Command{
		Use:   "highlight [query]",
		Short: "Highlight queries given as argument or one per line on stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analyze := func(q string) (engine.Analysis, error) {
				return engine.Analyze(q), nil
			}
			if serverURL != "" {
				c := client.New(serverURL, apiToken)
				analyze = func(q string) (engine.Analysis, error) {
					res, err := c.Analyze(cmd.Context(), q)
					if err != nil {
						return engine.Analysis{}, err
					}
					return res.Engine(), nil
				}
			}

			out := cmd.OutOrStdout()
			show := func(q string) error {
				res, err := analyze(q)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, render.Highlight(q, res.Spans))
				if !res.Valid || len(res.Diagnostics) > 0 {
					fmt.Fprint(out, render.Diagnostics(res))
				}
				return nil
			}

			if len(args) == 1 {
				return show(args[0])
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				if strings.TrimSpace(scanner.Text()) == "" {
					continue
				}
				if err := show(scanner.Text()); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Analyze on a querylight server instead of locally")
	cmd.Flags().StringVar(&apiToken, "token", "", "API token for --server")
	return cmd
}
