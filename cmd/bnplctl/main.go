// Command bnplctl runs operator tasks against the same database and
// gateways as the API: schema migration, fixture seeding, reconciliation,
// outbox dispatch and the overdue sweep.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payroll-bnpl/internal/app"
	"payroll-bnpl/internal/config"
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/fixtures"
	"payroll-bnpl/internal/infrastructure/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bnplctl",
		Short:         "Operator tasks for the payroll BNPL service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(reconcileContractCmd())
	root.AddCommand(dispatchOutboxCmd())
	root.AddCommand(sweepOverdueCmd())
	return root
}

// cliLogger keeps stdout free for command output.
func cliLogger(cfg *config.Config) (*zap.Logger, error) {
	lc := logger.Config(cfg.LogLevel)
	lc.OutputPaths = []string{"stderr"}
	log, err := lc.Build()
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("service_name", "bnplctl")), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withDB runs fn against the configured database only.
func withDB(migrate bool, fn func(gdb *gorm.DB, log *zap.Logger) error) error {
	cfg := config.Load()
	if migrate {
		cfg.AutoMigrate = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := cliLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	gdb, err := app.OpenDB(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	return fn(gdb, log)
}

// withApp runs fn against the fully wired service.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	log, err := cliLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(true, func(gdb *gorm.DB, log *zap.Logger) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert lenders, products, employers, employees and merchants from a yaml file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := fixtures.Load(file)
			if err != nil {
				return err
			}
			return withDB(false, func(gdb *gorm.DB, log *zap.Logger) error {
				st, err := app.Seeder(gdb, log).Apply(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixtures yaml file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile payroll, lender ledger and escrow for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if period == "" {
				period = contract.PayrollCycle(time.Now())
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Recon.Run(ctx, period)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "", "period key YYYY-MM (default: current month)")
	return cmd
}

func reconcileContractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-contract <contract-id>",
		Short: "Compare one contract with the loan ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rec, err := a.Recon.ReconcileContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func dispatchOutboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch-outbox",
		Short: "Deliver one batch of due outbox events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Outbox.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func sweepOverdueCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Flag overdue installments and default long-overdue contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse("2006-01-02", at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Settlement.SweepOverdue(ctx, now)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this date (YYYY-MM-DD)")
	return cmd
}
