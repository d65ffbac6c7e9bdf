package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/export"
	"github.com/opensource-finance/kestrel/internal/ingest"
)

// summaryFactors is how many risk factors the console summary lists.
const summaryFactors = 10

func newDetectCmd() *cobra.Command {
	var input, output string
	var contamination float64
	var seed int64
	var trees int

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Score a CSV file and write results, report and high-risk files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			cfg.Logging.Format = "text"
			setupLogger(cfg.Logging, os.Stderr)

			if cmd.Flags().Changed("contamination") {
				if contamination <= 0 || contamination >= 0.5 {
					return fmt.Errorf("contamination must be in (0, 0.5), got %v", contamination)
				}
				cfg.Detector.Contamination = contamination
			}
			if cmd.Flags().Changed("seed") {
				cfg.Detector.Seed = seed
			}
			if cmd.Flags().Changed("trees") {
				cfg.Detector.Trees = trees
			}
			if output == "" {
				output = strings.TrimSuffix(input, ".csv") + "_results.csv"
			}

			f, err := os.Open(input)
			if err != nil {
				return err
			}
			defer f.Close()

			table, err := ingest.ReadCSV(f)
			if err != nil {
				return err
			}
			slog.Info("input loaded", "path", input, "rows", len(table.Rows), "columns", len(table.Columns))

			det, err := detector.New(cfg.Detector)
			if err != nil {
				return err
			}
			res, err := det.Run(context.Background(), table)
			if err != nil {
				return err
			}

			paths, err := export.Files(output, table.Columns, res.Records, res.Report, cfg.Detector.HighRiskThreshold)
			if err != nil {
				return err
			}

			export.WriteSummary(os.Stdout, res.Report, summaryFactors)
			fmt.Println()
			fmt.Printf("Results:   %s\n", paths.Results)
			fmt.Printf("Report:    %s\n", paths.Report)
			if paths.HighRisk != "" {
				fmt.Printf("High risk: %s\n", paths.HighRisk)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input CSV file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "results CSV file (default <input>_results.csv)")
	cmd.Flags().Float64Var(&contamination, "contamination", 0.03, "expected fraction of anomalies")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().IntVar(&trees, "trees", 300, "isolation forest size")
	cmd.MarkFlagRequired("input")
	return cmd
}
