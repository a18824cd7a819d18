package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/warehouse-dq/internal/config"
	"github.com/JonMunkholm/warehouse-dq/internal/core"
	"github.com/JonMunkholm/warehouse-dq/internal/logging"
	"github.com/JonMunkholm/warehouse-dq/internal/schema"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitRuntime = 2
)

type connectFunc func(ctx context.Context, cfg *config.Config) (core.DB, func(), error)

type options struct {
	migrate   bool
	seedFile  string
	refresh   string
	analyze   string
	skipRules bool
	jsonOut   bool
}

// output is the -json document.
type output struct {
	Maintenance []core.MaintenanceResult `json:"maintenance,omitempty"`
	Run         *core.RunReport          `json:"run,omitempty"`
	Errors      []string                 `json:"errors,omitempty"`
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("dqrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&o.migrate, "migrate", false, "create the service tables if missing")
	fs.StringVar(&o.seedFile, "seed", "", "YAML rule file to seed before running (default $DQ_SEED_FILE)")
	fs.StringVar(&o.refresh, "refresh", "", "refresh every materialized view in this schema first")
	fs.StringVar(&o.analyze, "analyze", "", "ANALYZE every table in this schema first")
	fs.BoolVar(&o.skipRules, "skip-rules", false, "do maintenance only, do not run rules")
	fs.BoolVar(&o.jsonOut, "json", false, "print a JSON report instead of a table")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

// run executes one dqrun invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, connect connectFunc) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitRuntime
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "dqrun: %v\n", err)
		return exitRuntime
	}
	logger := logging.New(stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	db, closeDB, err := connect(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		return exitRuntime
	}
	defer closeDB()

	if opts.migrate {
		if err := schema.Apply(ctx, db); err != nil {
			logger.Error("migration failed", "error", err)
			return exitRuntime
		}
		logger.Info("schema up to date")
	}

	svc, err := core.NewService(db, core.OptionsFromConfig(cfg), core.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create service", "error", err)
		return exitRuntime
	}

	seedFile := opts.seedFile
	if seedFile == "" {
		seedFile = cfg.Quality.SeedFile
	}
	if seedFile != "" {
		rules, err := core.LoadSeedFile(seedFile)
		if err != nil {
			logger.Error("failed to load seed rules", "error", err)
			return exitRuntime
		}
		n, err := svc.SeedRules(ctx, rules)
		if err != nil {
			logger.Error("failed to seed rules", "error", err)
			return exitRuntime
		}
		logger.Info("seed rules applied", "file", seedFile, "inserted", n)
	}

	var out output
	code := exitOK

	maintain := func(name, schemaName string, op func(context.Context, string) (core.MaintenanceResult, error)) {
		if schemaName == "" {
			return
		}
		res, err := op(ctx, schemaName)
		out.Maintenance = append(out.Maintenance, res)
		if err != nil {
			out.Errors = append(out.Errors, core.FormatUserError(err)+": "+err.Error())
			logger.Error(name+" failed", "schema", schemaName, "error", err)
			code = exitRuntime
		}
	}
	maintain("refresh", opts.refresh, svc.RefreshAllViews)
	maintain("analyze", opts.analyze, svc.ReanalyzeSchema)

	if !opts.skipRules {
		report, err := svc.RunBatch(ctx)
		if err != nil {
			out.Errors = append(out.Errors, core.FormatUserError(err))
			logger.Error("rule batch failed", "error", err)
			code = exitRuntime
		} else {
			out.Run = &report
			if report.Summary.HasFailures() && code == exitOK {
				code = exitFailed
			}
		}
	}

	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			logger.Error("write report", "error", err)
			return exitRuntime
		}
		return code
	}
	printText(stdout, out)
	return code
}

func printText(w io.Writer, out output) {
	for _, m := range out.Maintenance {
		fmt.Fprintf(w, "%s %s: %d ok, %d failed (%s)\n", m.Op, m.Schema, len(m.Processed), len(m.Failed), m.Duration.Round(time.Millisecond))
	}
	if out.Run != nil {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STATUS\tTABLE\tRULE\tACTUAL\tEXPECTED\tERROR")
		for _, r := range out.Run.Records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Status, r.TableName, r.MetricName,
				r.Details.Actual, r.Details.Expected, r.Details.ErrorClass)
		}
		_ = tw.Flush()
		s := out.Run.Summary
		fmt.Fprintf(w, "run %s: %d rules, %d passed, %d warned, %d failed (%d errored)\n",
			out.Run.RunID, s.Total, s.Passed, s.Warned, s.Failed, s.Errored)
	}
	for _, e := range out.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}
