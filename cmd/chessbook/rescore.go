package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore <store>",
	Short: "Recompute metrics after a change of scoring weights",
	Long: `Recompute the metrics of every stored game written with other scoring
weights, from the stored engine evaluations. The engine is not run.

Examples:
  # Apply new weights from a settings file
  chessbook rescore games.db --config weights.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRescore,
}

func init() {
	rootCmd.AddCommand(rescoreCmd)
}

func runRescore(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0], false, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := s.client.Rescore(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Rescored %d games to %s", summary.Rescored, s.client.MetricVersion())
	if summary.Failed > 0 {
		fmt.Printf(" (%d without stored evaluations)", summary.Failed)
	}
	fmt.Println()
	return nil
}
