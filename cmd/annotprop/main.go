// Command annotprop propagates curated RGD annotations along the
// strain → allele → gene → ortholog chain and reconciles them with the store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"annotprop/internal/archive"
	"annotprop/internal/config"
	"annotprop/internal/core"
	"annotprop/internal/logging"
)

const appName = "annotprop"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Propagate strain and allele annotations to genes and orthologs",
		Long: `annotprop derives allele, gene and ortholog annotations from curated
mutant strain and allele annotations, then reconciles them with the
annotations the pipeline already owns: new rows are inserted, changed
rows updated, confirmed rows touched and rows no longer derived deleted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.AddCommand(runCmd(), reportsCmd(), versionCmd())
	return cmd
}

type runFlags struct {
	configPath string
	chains     []string
	aspects    []string
	workers    int
	logLevel   string
	logOutput  []string
}

func runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured chains over the configured aspects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("workers") {
				f.workers = -1
			}
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file path (YAML, default ./"+config.DefaultFile+" when present)")
	cmd.Flags().StringSliceVar(&f.chains, "chain", nil, "Restrict the run to these chains (strain2allele, allele2gene)")
	cmd.Flags().StringSliceVar(&f.aspects, "aspect", nil, "Restrict the run to these aspects (e.g. D,N)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent derivation workers (0 = GOMAXPROCS)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringSliceVar(&f.logOutput, "log-output", nil, "Log destinations (default stderr)")
	return cmd
}

func runPipeline(ctx context.Context, out io.Writer, f runFlags) error {
	cfg, err := config.NewLoader(nil).Load(f.configPath)
	if err != nil {
		return err
	}
	if f.workers >= 0 {
		cfg.Pipeline.Workers = f.workers
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, f.logOutput...)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := core.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close store", zap.Error(cerr))
		}
	}()
	arch, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	svc := core.NewService(core.Options{Config: cfg, Store: store, Archive: arch, Logger: logger})
	sum, runErr := svc.Run(ctx, core.Selection{Chains: f.chains, Aspects: f.aspects})
	if sum.RunID != "" {
		if err := printSummary(out, sum); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

func printSummary(out io.Writer, sum core.Summary) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\n", sum.RunID)
	fmt.Fprintln(tw, "CHAIN\tASPECT\tSTATE\tINSERTED\tUPDATED\tUP-TO-DATE\tDELETED\tELAPSED")
	for _, r := range sum.Reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n", r.Chain, r.Aspect, r.State, r.Inserted, r.Updated, r.UpToDate, r.Deleted, r.Elapsed())
	}
	fmt.Fprintf(tw, "elapsed %s\n", sum.FinishedAt.Sub(sum.StartedAt))
	return tw.Flush()
}

func reportsCmd() *cobra.Command {
	var configPath, prefix string
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List archived run reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(nil).Load(configPath)
			if err != nil {
				return err
			}
			if prefix == "" {
				prefix = cfg.Archive.Prefix
			}
			store, err := archive.Open(cmd.Context(), cfg.Archive)
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			if store == nil {
				return fmt.Errorf("archive driver is %q; nothing to list", cfg.Archive.Driver)
			}
			entries, err := archive.List(cmd.Context(), store, prefix)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Archive key prefix (default from config)")
	return cmd
}

func printEntries(out io.Writer, entries []archive.Entry) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN\tCHAIN\tASPECT\tSTATE\tINSERTED\tUPDATED\tDELETED\tERROR")
	for _, e := range entries {
		r := e.Report
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Format("2006-01-02T15:04:05Z07:00"), r.RunID, r.Chain, r.Aspect, r.State, r.Inserted, r.Updated, r.Deleted, r.Error)
	}
	return tw.Flush()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, core.Version)
		},
	}
}
