package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ledger/internal/auth"
	"ledger/internal/backend"
	"ledger/internal/cli"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/export"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/sheets/google"
	"ledger/internal/store"
)

type app struct {
	cfg  *config.Config
	out  io.Writer
	now  func() time.Time
	user string

	backend *backend.BackendResult
}

func newApp(cfg *config.Config, out io.Writer) *app {
	return &app{cfg: cfg, out: out, now: time.Now}
}

// open connects the configured backend once per invocation.
func (a *app) open(ctx context.Context) (*backend.BackendResult, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	be, err := cli.OpenBackend(ctx, a.cfg, log.Default(log.ComponentStorage))
	if err != nil {
		return nil, err
	}
	a.backend = be
	return be, nil
}

func (a *app) close() {
	if a.backend != nil {
		_ = a.backend.Cleanup()
		a.backend = nil
	}
}

// ledger loads the --user ledger from the configured backend.
func (a *app) ledger(ctx context.Context) (*ledger.Ledger, error) {
	if a.user == "" {
		return nil, errors.New("--user is required")
	}
	be, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	l := ledger.New(be.Store, store.StaticIdentity(a.user), ledger.Options{
		Now:      a.now,
		Notifier: be.Notifier(),
		Pending:  be.Local,
	})
	if err := l.Load(ctx); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return l, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and manage a user's transaction ledger",
		Long:          `ledgerctl reads and edits one user's ledger through the configured data backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVarP(&a.user, "user", "u", os.Getenv("LEDGER_USER"), "User id whose ledger to use")

	root.AddCommand(
		newStatsCmd(a),
		newRecentCmd(a),
		newAddCmd(a),
		newDeleteCmd(a),
		newExportCmd(a),
		newTokenCmd(a),
		newSyncCmd(a),
	)
	return root
}

func newStatsCmd(a *app) *cobra.Command {
	var rangeName string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show income, expenses, balance and category breakdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := core.ParseRange(rangeName)
			if err != nil {
				return err
			}
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}

			s := l.Summary(r)
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Range\t%s\n", s.Range)
			fmt.Fprintf(tw, "Transactions\t%d\n", s.Count)
			fmt.Fprintf(tw, "Income\t%s\n", s.Income)
			fmt.Fprintf(tw, "Expenses\t%s\n", s.Expenses)
			fmt.Fprintf(tw, "Balance\t%s\n", s.Balance)
			if shares := l.CategoryBreakdown(r); len(shares) > 0 {
				fmt.Fprintln(tw)
				for _, sh := range shares {
					fmt.Fprintf(tw, "%s\t%s\t%.1f%%\n", sh.Category, sh.Amount, sh.Percentage)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&rangeName, "range", "r", string(core.Month), "Week, Month, Year or All")
	return cmd
}

func newRecentCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			return printTransactions(a.out, l.RecentTransactions(limit))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", ledger.DefaultRecentLimit, "Number of transactions to show")
	return cmd
}

func printTransactions(w io.Writer, txs []core.Transaction) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tCATEGORY\tAMOUNT\tDESCRIPTION")
	for _, tx := range txs {
		date := "-"
		if !tx.Date.IsZero() {
			date = tx.Date.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", tx.ID, date, tx.Category, tx.Amount, tx.Description)
	}
	return tw.Flush()
}

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add AMOUNT CATEGORY DESCRIPTION...",
		Short: "Record a transaction; negative amounts are expenses",
		Example: `  ledgerctl -u alice add -- -12.50 Food lunch
  ledgerctl -u alice add 2500 Other salary`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := core.ParseAmount(args[0])
			if err != nil {
				return err
			}
			cat, err := core.ParseCategory(args[1])
			if err != nil {
				return err
			}
			tx := core.Transaction{
				Amount:      amount,
				Category:    cat,
				Description: strings.Join(args[2:], " "),
			}
			if err := tx.Validate(); err != nil {
				return err
			}

			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			id, err := l.Add(cmd.Context(), tx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			if _, ok := l.Get(args[0]); !ok {
				return fmt.Errorf("transaction %s: %w", args[0], core.ErrNotFound)
			}
			return l.Delete(cmd.Context(), args[0])
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var (
		output string
		sheets bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all transactions as CSV or to Google Sheets",
		Long: `Without flags the export is written to a new timestamped file in EXPORT_DIR.
Use -o to choose the file ("-" for stdout) or --sheets for the configured spreadsheet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := a.ledger(ctx)
			if err != nil {
				return err
			}
			txs := l.Snapshot()

			switch {
			case sheets:
				if !a.cfg.SheetsEnabled() {
					return errors.New("GOOGLE_SPREADSHEET_ID is not configured")
				}
				client, err := google.New(ctx, google.Config{
					SpreadsheetID:   a.cfg.GoogleSpreadsheetID,
					SheetName:       a.cfg.GoogleSheetName,
					ExportSheetName: a.cfg.GoogleExportSheetName,
					CredentialsJSON: a.cfg.GoogleServiceAccountJSON,
					CredentialsFile: a.cfg.GoogleServiceAccountFile,
				})
				if err != nil {
					return err
				}
				return exportTo(ctx, a.out, client, txs)
			case output == "-":
				return export.WriteCSV(a.out, txs)
			case output != "":
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				if err := export.WriteCSV(f, txs); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "exported %d transactions to %s\n", len(txs), output)
				return nil
			default:
				return exportTo(ctx, a.out, export.NewCSVExporter(a.cfg.ExportDir), txs)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout")
	cmd.Flags().BoolVar(&sheets, "sheets", false, "Write to the configured Google Sheet")
	cmd.MarkFlagsMutuallyExclusive("output", "sheets")
	return cmd
}

func exportTo(ctx context.Context, out io.Writer, exp store.Exporter, txs []core.Transaction) error {
	ref, err := exp.Export(ctx, txs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d transactions to %s\n", len(txs), ref)
	return nil
}

func newTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --user signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.user == "" {
				return errors.New("--user is required")
			}
			if a.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not configured")
			}
			if ttl <= 0 {
				ttl = a.cfg.JWTTTL
			}
			issuer, err := auth.NewIssuer(a.cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, err := issuer.GenerateToken(a.user)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default JWT_TTL)")
	return cmd
}

func newSyncCmd(a *app) *cobra.Command {
	var retryFailed, runOnce bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Show the queue of remote deletes awaiting retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			be, err := a.open(ctx)
			if err != nil {
				return err
			}
			rec := services.NewReconciler(be.Local, be.Store, services.ReconcilerConfig{
				BatchSize:  a.cfg.SyncBatchSize,
				MaxRetries: a.cfg.SyncMaxRetries,
			})

			if retryFailed {
				n, err := rec.RetryFailed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "requeued %d failed items\n", n)
			}
			if runOnce {
				rec.RunOnce(ctx)
			}

			st, err := rec.Stats(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Pending\t%d\n", st.Pending)
			fmt.Fprintf(tw, "Processing\t%d\n", st.Processing)
			fmt.Fprintf(tw, "Completed\t%d\n", st.Completed)
			fmt.Fprintf(tw, "Failed\t%d\n", st.Failed)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Move failed items back to pending")
	cmd.Flags().BoolVar(&runOnce, "run", false, "Process one batch now")
	return cmd
}
