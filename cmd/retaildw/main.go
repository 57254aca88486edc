// cmd/retaildw/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/retaildw/platform/internal/alerting"
	"github.com/retaildw/platform/internal/catalog"
	"github.com/retaildw/platform/internal/config"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/dimcache"
	"github.com/retaildw/platform/internal/dimresolver"
	"github.com/retaildw/platform/internal/factwriter"
	"github.com/retaildw/platform/internal/lineage"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/internal/partition"
	"github.com/retaildw/platform/internal/pipeline"
	"github.com/retaildw/platform/internal/quality"
	"github.com/retaildw/platform/internal/reportcache"
	"github.com/retaildw/platform/internal/scheduler"
	"github.com/retaildw/platform/internal/schema"
	"github.com/retaildw/platform/internal/versioning"
	"github.com/retaildw/platform/pkg/types"
)

// Version information (set by build system via ldflags)
var (
	Version   = "v0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// app bundles the process-wide handles (config, logger, pool, dimension
// cache) that every subcommand wires its components from.
type app struct {
	cfg    *types.Config
	logger logging.RetailLogger
	db     *database.Postgres
	cache  *dimcache.Cache
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// newApp loads configuration, builds the logger, and connects the pool.
func newApp(ctx context.Context, configFile, logLevel string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.NewLogger(logging.LoggerConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgres(ctx, cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		cache:  dimcache.New(cfg.ETL.DimensionCacheSize),
	}, nil
}

// newPipeline wires a full pipeline over the app's shared handles.
func (a *app) newPipeline() *pipeline.Pipeline {
	resolver := dimresolver.New(a.db, a.cache, a.logger)
	partitions := partition.New(a.db, a.logger)
	writer := factwriter.New(a.db, partitions, a.logger)
	versions := versioning.New(a.db, a.logger)
	lin := lineage.New(a.db, a.logger)
	sink := alerting.NewDBSink(a.db, a.logger)
	monitor := quality.New(a.db, sink, a.cfg.Quality, a.logger)
	return pipeline.New(resolver, writer, versions, lin, monitor, a.cfg.ETL, a.logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		configFile string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "retaildw",
		Short:         "Batched ETL pipeline for a retail star-schema warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("retaildw %s\n", Version)
			fmt.Printf("  Git Commit: %s\n", GitCommit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}

	rootCmd.AddCommand(
		versionCmd,
		setupCommand(ctx, &configFile, &logLevel),
		etlCommand(ctx, &configFile, &logLevel),
		testCommand(ctx, &configFile, &logLevel),
		scheduleCommand(ctx, &configFile, &logLevel),
		qualityCommand(ctx, &configFile, &logLevel),
		versionsCommand(ctx, &configFile, &logLevel),
		catalogCommand(ctx, &configFile, &logLevel),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupCommand(ctx context.Context, configFile, logLevel *string) *cobra.Command {
	var dropExisting bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the warehouse schema, tables, and partitions",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()
			return schema.Setup(ctx, a.db, dropExisting, a.logger)
		},
	}
	cmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop the schema before recreating it")
	return cmd
}

func etlCommand(ctx context.Context, configFile, logLevel *string) *cobra.Command {
	var (
		source           string
		jobName          string
		batchSize        int
		qualityThreshold float64
	)
	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Run the ETL pipeline against a CSV source",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			if qualityThreshold > 0 {
				a.cfg.Quality.WarningScore = qualityThreshold
			}
			if jobName == "" {
				jobName = "etl_" + time.Now().UTC().Format("20060102_150405")
			}

			metrics, err := a.newPipeline().Run(ctx, pipeline.Job{
				SourcePath: source,
				JobName:    jobName,
				BatchSize:  batchSize,
			})
			if err != nil {
				return err
			}

			fmt.Printf("%s: extracted=%d loaded=%d rejected=%d version=%s\n",
				metrics.Status, metrics.RecordsExtracted, metrics.RecordsLoaded,
				metrics.RecordsRejected, metrics.VersionNo)
			if metrics.Status != types.RunSuccess {
				return errors.Errorf("run finished %s", metrics.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Path to the source CSV file")
	cmd.Flags().StringVar(&jobName, "job-name", "", "Job name for logs and lineage")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Batch size override")
	cmd.Flags().Float64Var(&qualityThreshold, "quality-threshold", 0, "Quality warning score override")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func testCommand(ctx context.Context, configFile, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Validate database connectivity",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.db.Ping(ctx); err != nil {
				return errors.Wrap(err, "database unreachable")
			}
			fmt.Println("database connection OK")
			return nil
		},
	}
}

func scheduleCommand(ctx context.Context, configFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled ETL jobs",
	}

	var (
		name    string
		at      string
		csvPath string
	)
	dailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Register a daily ETL job",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			store := scheduler.NewStore(a.cfg.Scheduler.StatePath)
			job, err := store.Add(scheduler.Job{
				Name: name, Type: scheduler.TypeDaily, Time: at, CSVPath: csvPath,
			})
			if err != nil {
				return err
			}
			fmt.Printf("scheduled %q daily at %s (id %s)\n", job.Name, job.Time, job.ID)
			return nil
		},
	}
	dailyCmd.Flags().StringVar(&name, "name", "daily-etl", "Job name")
	dailyCmd.Flags().StringVar(&at, "time", "02:00", "Trigger time (HH:MM)")
	dailyCmd.Flags().StringVar(&csvPath, "source", "", "Path to the source CSV file")
	_ = dailyCmd.MarkFlagRequired("source")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			jobs, err := scheduler.NewStore(cfg.Scheduler.StatePath).Load()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no scheduled jobs")
				return nil
			}
			for _, job := range jobs {
				lastRun := "never"
				if !job.LastRun.IsZero() {
					lastRun = job.LastRun.UTC().Format(time.RFC3339)
				}
				fmt.Printf("%s  %s %-7s %s  source=%s last_run=%s\n",
					job.ID, job.Name, job.Type, job.Time, job.CSVPath, lastRun)
			}
			return nil
		},
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Run the scheduler loop until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			p := a.newPipeline()
			lineage.New(a.db, a.logger).StartRetentionSweep(ctx, time.Hour, 90*24*time.Hour)
			store := scheduler.NewStore(a.cfg.Scheduler.StatePath)
			sched := scheduler.New(store, func(runCtx context.Context, job scheduler.Job) error {
				_, err := p.Run(runCtx, pipeline.Job{SourcePath: job.CSVPath, JobName: job.Name})
				return err
			}, a.cfg.Scheduler.PollInterval, a.logger)

			if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.AddCommand(dailyCmd, listCmd, startCmd)
	return cmd
}

func qualityCommand(ctx context.Context, configFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "On-demand data-quality evaluation",
	}

	var table string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate quality rules against recent rows",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			monitor := quality.New(a.db, alerting.NewDBSink(a.db, a.logger), a.cfg.Quality, a.logger)
			records, err := monitor.SampleTable(ctx, table, a.cfg.ETL.QualitySampleSize)
			if err != nil {
				return err
			}
			report, err := monitor.Check(ctx, table, records, "on_demand_"+time.Now().UTC().Format("20060102_150405"))
			if err != nil {
				return err
			}

			fmt.Printf("table %s: %d rows sampled, overall score %.1f\n", table, len(records), report.OverallScore)
			for _, res := range report.Results {
				marker := "ok"
				if !res.IsThresholdMet {
					marker = "FAIL"
				}
				fmt.Printf("  %-26s %6.1f  %s\n", res.Rule.Name, res.MetricValue, marker)
			}
			return nil
		},
	}
	checkCmd.Flags().StringVar(&table, "table", "fact_sales", "Table to evaluate")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show quality trends and anomalies",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			monitor := quality.New(a.db, alerting.NewLogSink(a.logger), a.cfg.Quality, a.logger)
			anomalies, err := monitor.DetectAnomalies(ctx, table)
			if err != nil {
				return err
			}
			if len(anomalies) == 0 {
				fmt.Printf("table %s: no anomalies in the last 7 days\n", table)
			}
			for _, anom := range anomalies {
				fmt.Printf("%s %s: %.1f -> %.1f (drop %.1f, %s)\n",
					anom.MeasuredAt.Format("2006-01-02 15:04"), anom.MetricName,
					anom.Previous, anom.Current, anom.Drop, anom.Severity)
			}

			for _, rule := range quality.RulesForTable(table) {
				trend, err := monitor.Trend(ctx, table, rule.Name, 7)
				if err != nil {
					return err
				}
				fmt.Printf("  %-26s avg=%6.1f min=%6.1f max=%6.1f %s\n",
					rule.Name, trend.Avg, trend.Min, trend.Max, trend.Trend)
			}
			return nil
		},
	}
	reportCmd.Flags().StringVar(&table, "table", "fact_sales", "Table to report on")

	cmd.AddCommand(checkCmd, reportCmd)
	return cmd
}

func versionsCommand(ctx context.Context, configFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Inspect data versions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent data versions",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			infos, err := versioning.New(a.db, a.logger).List(ctx, 20)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Printf("%-22s %-12s %s records=%d %s\n",
					info.Number, info.Type, info.CreatedAt.Format("2006-01-02 15:04:05"),
					info.RecordsCount, info.Status)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <version_number>",
		Short: "Show one data version",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp(ctx, *configFile, *logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			info, err := versioning.New(a.db, a.logger).Show(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("version:       %s\n", info.Number)
			fmt.Printf("type:          %s\n", info.Type)
			fmt.Printf("created_at:    %s\n", info.CreatedAt.Format(time.RFC3339))
			fmt.Printf("source_file:   %s\n", info.SourceFile)
			fmt.Printf("file_hash:     %s\n", info.FileHash)
			fmt.Printf("records_count: %d\n", info.RecordsCount)
			fmt.Printf("etl_job_id:    %s\n", info.ETLJobID)
			fmt.Printf("status:        %s\n", info.Status)
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func catalogCommand(ctx context.Context, configFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Warehouse metadata and reporting",
	}

	newCatalog := func() (*app, *catalog.Catalog, error) {
		a, err := newApp(ctx, *configFile, *logLevel)
		if err != nil {
			return nil, nil, err
		}
		return a, catalog.New(a.db, reportcache.New(5*time.Minute), a.logger), nil
	}

	var table string
	describeCmd := &cobra.Command{
		Use:   "describe",
		Short: "Describe a warehouse table",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, cat, err := newCatalog()
			if err != nil {
				return err
			}
			defer a.close()

			info, err := cat.DescribeTable(ctx, table)
			if err != nil {
				return err
			}
			fmt.Printf("%s — %s\n", info.Name, info.Description)
			fmt.Printf("rows≈%d size=%d bytes\n", info.RowEstimate, info.TotalBytes)
			for _, col := range info.Columns {
				nullable := "NOT NULL"
				if col.IsNullable {
					nullable = "NULL"
				}
				fmt.Printf("  %-22s %-20s %-8s %s\n", col.Name, col.DataType, nullable, col.Description)
			}
			return nil
		},
	}
	describeCmd.Flags().StringVar(&table, "table", "fact_sales", "Table to describe")

	dictionaryCmd := &cobra.Command{
		Use:   "dictionary",
		Short: "Print the full data dictionary",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, cat, err := newCatalog()
			if err != nil {
				return err
			}
			defer a.close()

			infos, err := cat.Dictionary(ctx)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Printf("\n%s — %s\n", info.Name, info.Description)
				for _, col := range info.Columns {
					fmt.Printf("  %-22s %-20s %s\n", col.Name, col.DataType, col.Description)
				}
			}
			return nil
		},
	}

	lineageCmd := &cobra.Command{
		Use:   "lineage",
		Short: "Show recent pipeline runs",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, cat, err := newCatalog()
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := cat.RecentRuns(ctx, 20)
			if err != nil {
				return err
			}
			for _, e := range entries {
				completed := "-"
				if e.CompletedAt != nil {
					completed = e.CompletedAt.Format("15:04:05")
				}
				fmt.Printf("%d %-9s %s..%s processed=%d inserted=%d rejected=%d %s\n",
					e.LineageID, e.Status, e.StartedAt.Format("2006-01-02 15:04:05"), completed,
					e.RecordsProcessed, e.RecordsInserted, e.RecordsRejected, e.SourceFile)
			}
			return nil
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report <sales-summary|top-products|customer-stats>",
		Short: "Run a cached analytical report",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, cat, err := newCatalog()
			if err != nil {
				return err
			}
			defer a.close()

			switch strings.ToLower(args[0]) {
			case "sales-summary":
				s, err := cat.SalesSummaryReport(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("transactions: %d\n", s.TotalTransactions)
				fmt.Printf("quantity:     %d\n", s.TotalQuantity)
				fmt.Printf("revenue:      %.2f\n", s.TotalRevenue)
				fmt.Printf("customers:    %d\n", s.DistinctCustomers)
				fmt.Printf("products:     %d\n", s.DistinctProducts)
			case "top-products":
				ranks, err := cat.TopProductsReport(ctx, 10)
				if err != nil {
					return err
				}
				for i, r := range ranks {
					fmt.Printf("%2d. %-12s %-40s qty=%d revenue=%.2f\n", i+1, r.StockCode, r.Description, r.Quantity, r.Revenue)
				}
			case "customer-stats":
				stats, err := cat.CustomerStatsReport(ctx)
				if err != nil {
					return err
				}
				for _, s := range stats {
					fmt.Printf("%-24s customers=%d transactions=%d revenue=%.2f avg=%.2f\n",
						s.Country, s.Customers, s.Transactions, s.Revenue, s.AvgOrderValue)
				}
			default:
				return errors.Errorf("unknown report %q", args[0])
			}
			return nil
		},
	}

	cmd.AddCommand(describeCmd, dictionaryCmd, lineageCmd, reportCmd)
	return cmd
}
