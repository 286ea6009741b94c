package writer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"arbflow/models"
)

var separator = strings.Repeat("=", 60)

// ReportWriter renders opportunities as the plain text execution report.
// Each report is written with a single Write call.
type ReportWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewReportWriter(out io.Writer) *ReportWriter {
	return &ReportWriter{out: out}
}

// Report writes opp to the underlying writer.
func (w *ReportWriter) Report(opp models.Opportunity) error {
	var buf bytes.Buffer
	Format(&buf, opp)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Format renders opp into buf.
func Format(buf *bytes.Buffer, opp models.Opportunity) {
	fmt.Fprintf(buf, "\nARBITRAGE OPPORTUNITY DETECTED for instrument: %s\n", opp.Symbol)
	fmt.Fprintf(buf, "Strategy: Buy on %s -> Sell on %s\n", opp.BuyVenue, opp.SellVenue)

	buf.WriteString("EXECUTION SEQUENCE:\n")
	for i, leg := range opp.Legs {
		fmt.Fprintf(buf, "%d. Place BUY order: %s contracts at %s on %s\n", i+1, leg.Quantity, leg.BuyPrice, opp.BuyVenue)
		fmt.Fprintf(buf, "Place SELL order: %s contracts at %s on %s\n", leg.Quantity, leg.SellPrice, opp.SellVenue)
		fmt.Fprintf(buf, "-> Level Profit: %s (Margin: %s)\n", leg.Profit, leg.Margin())
	}

	buf.WriteString("SUMMARY:\n")
	fmt.Fprintf(buf, "Total Volume: %s contracts\n", opp.TotalVolume)
	fmt.Fprintf(buf, "Total Profit: %s\n", opp.TotalProfit)
	buf.WriteString(separator)
	buf.WriteString("\n")
}
