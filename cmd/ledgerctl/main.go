// ledgerctl computes a technician's commission ledger from a snapshot file,
// without a database.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
	"github.com/repairdesk/backend/internal/service"
	"github.com/repairdesk/backend/internal/snapshot"
)

type options struct {
	snapshotPath  string
	technicianID  string
	start         string
	end           string
	search        string
	paymentStatus string
	propose       string
	audit         bool
	locale        string
	currency      string
	jsonOutput    bool
	verbose       bool
}

type report struct {
	Summary  models.TechnicianSummary `json:"summary"`
	Lines    []models.TicketLine      `json:"lines"`
	Issues   []service.RecordIssue    `json:"issues"`
	Decision *service.PayoutDecision  `json:"decision,omitempty"`
	Findings []service.AuditFinding   `json:"findings,omitempty"`
}

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coded *exitError
		if errors.As(err, &coded) {
			os.Exit(coded.ExitCode())
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("ledgerctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.snapshotPath, "snapshot", "", "snapshot file (YAML or JSON) with tickets, payments and payouts")
	flagSet.StringVarP(&opts.technicianID, "technician", "t", "", "technician id")
	flagSet.StringVar(&opts.start, "start", "", "inclusive start date (YYYY-MM-DD or RFC3339)")
	flagSet.StringVar(&opts.end, "end", "", "inclusive end date (YYYY-MM-DD or RFC3339)")
	flagSet.StringVarP(&opts.search, "q", "q", "", "filter lines by client, device or ticket code")
	flagSet.StringVar(&opts.paymentStatus, "payment-status", "ALL", "ALL, PAID or PENDING")
	flagSet.StringVar(&opts.propose, "propose", "", "check a payout amount against the outstanding balance")
	flagSet.BoolVar(&opts.audit, "audit", false, "report overpaid technicians, missing rates and orphan payments")
	flagSet.StringVar(&opts.locale, "locale", "fr", "locale for amounts")
	flagSet.StringVar(&opts.currency, "currency", money.DefaultCurrency, "ISO 4217 currency code")
	flagSet.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of a table")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log skipped records")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &exitError{code: 2, err: err}
	}
	if opts.snapshotPath == "" {
		return &exitError{code: 2, err: errors.New("--snapshot is required")}
	}
	if opts.technicianID == "" && !opts.audit {
		return &exitError{code: 2, err: errors.New("--technician is required unless --audit is set")}
	}

	period, err := service.ParsePeriod(opts.start, opts.end)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	filter, ok := models.ParsePaymentFilter(opts.paymentStatus)
	if !ok {
		return &exitError{code: 2, err: fmt.Errorf("unknown payment status %q", opts.paymentStatus)}
	}

	raw, err := snapshot.Load(opts.snapshotPath)
	if err != nil {
		return err
	}
	logger := zerolog.Nop()
	if opts.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()
	}
	snap, issues := service.Normalizer{Logger: logger}.Normalize(raw)

	var rep report
	rep.Issues = issues
	if opts.technicianID != "" {
		rep.Summary, rep.Lines = service.SummaryWithLines(snap, opts.technicianID, service.BreakdownQuery{
			Period: period,
			Search: opts.search,
			Filter: filter,
		})
	}
	if opts.audit {
		rep.Findings = service.Audit(snap, period)
	}

	var rejection error
	if opts.propose != "" && opts.technicianID != "" {
		amount, err := service.ParseAmount(opts.propose)
		if err == nil {
			var guarded models.TechnicianSummary
			guarded, err = service.GuardSnapshot(snap, opts.technicianID, amount)
			rep.Decision = &service.PayoutDecision{Allowed: err == nil, Requested: amount, Summary: guarded}
		}
		rejection = err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		printReport(stdout, rep, money.NewFormatter(opts.locale, opts.currency), opts)
	}
	if rejection != nil {
		return &exitError{code: 3, err: rejection}
	}
	return nil
}

func printReport(w io.Writer, rep report, f money.Formatter, opts options) {
	fmtMoney := func(v any) string { return f.FormatValue(v, opts.currency) }

	if opts.technicianID != "" {
		s := rep.Summary
		name := s.TechnicianName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "Technician %s (%s)\n", s.TechnicianID, name)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "  Repaired tickets\t%d\n", s.TotalRepaired)
		fmt.Fprintf(tw, "  Revenue\t%s\n", fmtMoney(s.TotalRevenue))
		fmt.Fprintf(tw, "  Commission\t%s\n", fmtMoney(s.TotalCommission))
		fmt.Fprintf(tw, "  Paid out\t%s\n", fmtMoney(s.TotalPaidOut))
		fmt.Fprintf(tw, "  Outstanding\t%s\n", fmtMoney(s.OutstandingBalance))
		if s.OverPaid.IsPositive() {
			fmt.Fprintf(tw, "  Over paid\t%s\n", fmtMoney(s.OverPaid))
		}
		fmt.Fprintf(tw, "  Average rate\t%s %%\n", s.AverageCommissionPercentage.StringFixed(2))
		fmt.Fprintf(tw, "  Awaiting rate\t%d\n", s.PendingRateCount)
		_ = tw.Flush()

		if len(rep.Lines) > 0 {
			fmt.Fprintln(w)
			tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TICKET\tCODE\tCLIENT\tREVENUE\tRATE\tSHARE\tSTATE\tPAYMENT\tPAYOUT")
			for _, l := range rep.Lines {
				rate := "-"
				if l.CommissionPercentage.Valid {
					rate = l.CommissionPercentage.Decimal.String() + "%"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					l.TicketID, l.Code, l.ClientName, fmtMoney(l.Revenue), rate, fmtMoney(l.TechnicianShare),
					l.CommissionState, l.PaymentStatus, l.PayoutCoverage)
			}
			_ = tw.Flush()
		}
	}

	if rep.Decision != nil {
		fmt.Fprintln(w)
		if rep.Decision.Allowed {
			fmt.Fprintf(w, "Payout of %s is within the outstanding balance.\n", fmtMoney(rep.Decision.Requested))
		} else {
			fmt.Fprintf(w, "Payout of %s exceeds the outstanding balance of %s.\n", fmtMoney(rep.Decision.Requested), fmtMoney(rep.Decision.Summary.OutstandingBalance))
		}
	}

	if len(rep.Findings) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FINDING\tTECHNICIAN\tTICKET\tPAYMENT\tAMOUNT\tMESSAGE")
		for _, finding := range rep.Findings {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", finding.Kind, finding.TechnicianID, finding.TicketID, finding.PaymentID, fmtMoney(finding.Amount), finding.Message)
		}
		_ = tw.Flush()
	} else if opts.audit {
		fmt.Fprintln(w, "\nNo audit findings.")
	}

	if len(rep.Issues) > 0 {
		fmt.Fprintf(w, "\n%d record issue(s):\n", len(rep.Issues))
		for _, issue := range rep.Issues {
			fmt.Fprintf(w, "  %s\n", issue.Error())
		}
	}
}
