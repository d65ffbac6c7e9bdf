package export

import (
	"fmt"
	"io"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// WriteSummary prints the human-readable run summary shown by the CLI.
func WriteSummary(w io.Writer, r *domain.Report, topN int) {
	fmt.Fprintln(w, "=== DETECTION SUMMARY ===")
	fmt.Fprintf(w, "Total Transactions:   %d\n", r.TotalTransactions)
	fmt.Fprintf(w, "Flagged Transactions: %d\n", r.FlaggedTransactions)
	fmt.Fprintf(w, "Flagged Percentage:   %.2f%%\n", r.FlaggedPercentage)
	fmt.Fprintf(w, "Average Risk Score:   %.2f\n", r.AverageRiskScore)
	if r.DroppedRecords > 0 {
		fmt.Fprintf(w, "Dropped Records:      %d\n", r.DroppedRecords)
	}

	fmt.Fprintln(w, "\nRisk Distribution:")
	fmt.Fprintf(w, "  %s: %d\n", domain.RiskCritical, r.RiskDistribution.Critical)
	fmt.Fprintf(w, "  %s: %d\n", domain.RiskHigh, r.RiskDistribution.High)
	fmt.Fprintf(w, "  %s: %d\n", domain.RiskMedium, r.RiskDistribution.Medium)
	fmt.Fprintf(w, "  %s: %d\n", domain.RiskLow, r.RiskDistribution.Low)

	n := min(topN, len(r.TopRiskFactors))
	fmt.Fprintf(w, "\nTop %d Risk Factors:\n", n)
	for i, name := range r.TopRiskFactors[:n] {
		fmt.Fprintf(w, "  %d. %s\n", i+1, name)
	}
}
