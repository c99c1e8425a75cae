package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/discochess/chessbook/internal/export"
	"github.com/discochess/chessbook/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <store> <output>",
	Short: "Export a ranked selection of stored games",
	Long: `Write the stored games selected by --where, ordered by --sort_by and
bounded by -n, to an output archive. The output is only published once
every game was written; on error nothing is left behind.

Sort keys have the form column[:asc|desc]. Several keys may follow one
--sort_by separated by spaces or commas, or --sort_by may be repeated.
Filters have the form
column<op>value with op one of = != < <= > >= and ~ (LIKE, with % and _).
Queryable columns:
  ` + wrapColumns() + `

Examples:
  # The 50 best games
  chessbook export games.db best.pgn

  # The 10 longest decisive games by strong players, to stdout
  chessbook export games.db - -n 10 --sort_by num_moves:desc avg_cpl:asc \
      --where "winner!=Draw" --where "white_elo>=2400"

  # Well played but not flawless, written to a bucket
  chessbook export games.db gs://my-bucket/book.pgn.zst --min_score 60 --max_score 90`,
	Args: func(cmd *cobra.Command, args []string) error {
		if paths, _ := splitSortArgs(args); len(paths) != 2 {
			return fmt.Errorf("accepts <store> <output> and sort keys, received %d paths", len(paths))
		}
		return nil
	},
	RunE: runExport,
}

var (
	limit    int
	sortBy   []string
	where    []string
	minScore float64
	maxScore float64
)

func init() {
	exportCmd.Flags().IntVarP(&limit, "count", "n", export.DefaultLimit, "maximum number of games")
	exportCmd.Flags().StringSliceVar(&sortBy, "sort_by", []string{"quality_score:desc"}, "sort keys, first key dominant")
	exportCmd.Flags().StringArrayVar(&where, "where", nil, "filter expression, repeatable")
	exportCmd.Flags().Float64Var(&minScore, "min_score", 0, "minimum quality score")
	exportCmd.Flags().Float64Var(&maxScore, "max_score", 0, "maximum quality score")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	paths, keys := splitSortArgs(args)
	storePath, output := paths[0], paths[1]

	req, err := exportRequest(cmd, keys)
	if err != nil {
		return err
	}

	s, err := openSession(storePath, true, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := s.client.Export(ctx, output, req)
	if err != nil {
		return err
	}
	if output != "-" {
		if res.Empty {
			fmt.Fprintf(os.Stderr, "No games matched; wrote an empty archive to %s\n", output)
		} else {
			fmt.Printf("Exported %d games to %s\n", res.Count, output)
		}
	}
	return nil
}

// splitSortArgs separates positional sort keys, as in
// "--sort_by a:desc b:asc", from the store and output paths.
func splitSortArgs(args []string) (paths, keys []string) {
	for _, arg := range args {
		if _, err := export.ParseSort([]string{arg}); err == nil {
			keys = append(keys, arg)
		} else {
			paths = append(paths, arg)
		}
	}
	return paths, keys
}

// exportRequest builds the request from the command flags and any extra
// positional sort keys.
func exportRequest(cmd *cobra.Command, extra []string) (export.Request, error) {
	if limit < 1 {
		return export.Request{}, fmt.Errorf("-n must be positive, got %d", limit)
	}
	specs := sortBy
	if len(extra) > 0 {
		if cmd.Flags().Changed("sort_by") {
			specs = append(append([]string(nil), sortBy...), extra...)
		} else {
			specs = extra
		}
	}
	keys, err := export.ParseSort(specs)
	if err != nil {
		return export.Request{}, err
	}
	req := export.Request{Sort: keys, Limit: limit}
	for _, expr := range where {
		f, err := export.ParseFilter(expr)
		if err != nil {
			return export.Request{}, err
		}
		req.Filters = append(req.Filters, f)
	}
	if cmd.Flags().Changed("min_score") {
		req.Filters = append(req.Filters, store.Filter{Column: "quality_score", Op: store.OpGe, Value: minScore})
	}
	if cmd.Flags().Changed("max_score") {
		req.Filters = append(req.Filters, store.Filter{Column: "quality_score", Op: store.OpLe, Value: maxScore})
	}
	return req, nil
}

func wrapColumns() string {
	var out string
	width := 0
	for i, name := range store.ColumnNames() {
		if i > 0 {
			out += ","
			width++
			if width+len(name) > 70 {
				out += "\n  "
				width = 0
			} else {
				out += " "
				width++
			}
		}
		out += name
		width += len(name)
	}
	return out
}
