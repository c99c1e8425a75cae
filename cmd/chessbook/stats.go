package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/discochess/chessbook"
)

var statsCmd = &cobra.Command{
	Use:   "stats <store>",
	Short: "Show the quality score distribution of the store",
	Long: `Display statistics about the analysis store:
- Number of stored games
- Minimum, maximum and mean quality score
- A histogram of quality scores`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0], true, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	dist, err := s.client.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Store:          %s\n", args[0])
	fmt.Printf("Metric version: %s\n", s.client.MetricVersion())
	printDistribution(dist)
	return nil
}

const barWidth = 40

func printDistribution(d chessbook.Distribution) {
	if d.Count == 0 {
		fmt.Println("No games stored.")
		fmt.Println("Run 'chessbook build' to analyze an archive.")
		return
	}
	fmt.Printf("Games:          %d\n", d.Count)
	fmt.Printf("Quality score:  min %.2f  max %.2f  mean %.2f  stddev %.2f\n", d.Min, d.Max, d.Mean, d.StdDev)
	fmt.Println()

	peak := 0
	for _, b := range d.Buckets {
		peak = max(peak, b.Count)
	}
	for _, b := range d.Buckets {
		n := b.Count * barWidth / peak
		if b.Count > 0 && n == 0 {
			n = 1
		}
		fmt.Printf("%8.2f ..%8.2f  %-*s %d\n", b.Low, b.High, barWidth, strings.Repeat("#", n), b.Count)
	}
}
