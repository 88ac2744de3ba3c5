package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/mat"

	"fredcast/internal/config"
	"fredcast/internal/exporter"
	"fredcast/internal/fred"
	"fredcast/internal/pipeline"
	"fredcast/internal/timeseries"
	transport "fredcast/internal/transport/http"
)

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(args)

	a, err := newApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := a.cfg.RequireAPIKey(); err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	report, err := runPipeline(ctx, a, store)
	if err != nil {
		return err
	}
	printReport(report)
	if len(report.Groups) == 0 && len(report.Failures) > 0 {
		return fmt.Errorf("every analysis group failed")
	}
	return nil
}

func runPipeline(ctx context.Context, a *app, store pipeline.Store) (*pipeline.Report, error) {
	client := fred.NewClient(a.cfg.Fred, fred.WithLogger(a.logger))
	p := pipeline.New(a.cfg.Pipeline, client, store,
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.metrics))
	return p.Run(ctx)
}

func printReport(r *pipeline.Report) {
	fmt.Printf("Run %s: %d series, %d observations, %s\n",
		r.RunID, r.Series, r.Observations, r.Finished.Sub(r.Started).Round(time.Millisecond))
	for _, e := range r.HarmonizationErrors {
		fmt.Printf("  dropped %s (%s): %v\n", e.SeriesID, e.Strategy, e.Err)
	}
	for _, g := range r.Groups {
		fmt.Printf("  %s: rank %d, lag order %d, %d predictions\n", g.Group, g.Rank, g.LagOrder, len(g.Predictions))
	}
	for _, f := range r.Failures {
		fmt.Printf("  %s failed at %s: %v\n", f.Group, f.Stage, f.Err)
	}
}

func analyzeCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	cfgPath := configFlag(fs)
	input := fs.String("input", "", "wide CSV file: date column followed by one column per series (required)")
	output := fs.String("output", "-", "where to write the level forecast as CSV")
	name := fs.String("group", "offline", "name of the analysis group")
	series := fs.String("series", "", "comma-separated columns to analyze (default: all)")
	steps := fs.Int("steps", 30, "forecast horizon in days")
	start := fs.String("start", "", "first date to use (YYYY-MM-DD)")
	end := fs.String("end", "", "last date to use (YYYY-MM-DD)")
	shock := fs.String("irf", "", "print impulse responses to a shock in this column")
	horizon := fs.Int("horizon", 12, "impulse response horizon")
	fs.Parse(args)

	if *input == "" {
		fs.Usage()
		return fmt.Errorf("-input is required")
	}
	a, err := newApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	ds, err := timeseries.LoadCSV(*input)
	if err != nil {
		return err
	}
	group := config.GroupConfig{Name: *name, SeriesIDs: ds.Names, Start: *start, End: *end, Steps: *steps}
	if *series != "" {
		group.SeriesIDs = strings.Split(*series, ",")
	}
	a.logger.Info("loaded dataset", slog.String("path", *input),
		slog.Int("rows", len(ds.Dates)), slog.Any("series", ds.Names))

	p := pipeline.New(a.cfg.Pipeline, nil, nil, pipeline.WithLogger(a.logger))
	res, err := p.AnalyzeGroup(ctx, ds, group, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: rank %d, lag order %d\n", res.Group, res.Rank, res.LagOrder)
	printPValues(res)

	out, err := createOutput(*output)
	if err != nil {
		return err
	}
	if err := timeseries.WriteCSV(out, res.Forecast); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if *shock != "" {
		idx := -1
		for j, n := range res.Model.Names {
			if n == *shock {
				idx = j
			}
		}
		if idx < 0 {
			return fmt.Errorf("irf: column %q not in group", *shock)
		}
		irf, err := res.Model.IRF(*horizon, idx)
		if err != nil {
			return err
		}
		printIRF(irf, res.Model.Names, *shock)
	}
	return nil
}

func printPValues(res *pipeline.GroupResult) {
	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "series\tp (levels)\tp (model input)")
	for _, n := range res.Model.Names {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\n", n, res.PValuesBefore[n], res.PValuesAfter[n])
	}
	w.Flush()
}

func printIRF(irf *mat.Dense, names []string, shock string) {
	fmt.Fprintf(os.Stderr, "Impulse responses to a shock in %s\n", shock)
	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "h\t%s\t\n", strings.Join(names, "\t"))
	rows, cols := irf.Dims()
	for h := 0; h < rows; h++ {
		fmt.Fprintf(w, "%d\t", h)
		for k := 0; k < cols; k++ {
			fmt.Fprintf(w, "%.6f\t", irf.At(h, k))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := configFlag(fs)
	interval := fs.Duration("interval", 0, "also run the pipeline on this interval (0 disables)")
	fs.Parse(args)

	a, err := newApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if err := store.CreateSchema(ctx); err != nil {
		return err
	}

	if *interval > 0 {
		if err := a.cfg.RequireAPIKey(); err != nil {
			return err
		}
		go schedule(ctx, a, store, *interval)
	}

	h := transport.NewHandler(store, a.registry, a.logger)
	return transport.Serve(ctx, a.cfg.Server, h.Routes(), a.logger)
}

// schedule runs the pipeline immediately and then every interval until ctx
// is cancelled. Runs never overlap.
func schedule(ctx context.Context, a *app, store pipeline.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := runPipeline(ctx, a, store); err != nil {
			a.logger.Error("scheduled run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func exportCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := configFlag(fs)
	format := fs.String("format", "csv", "csv or xlsx")
	runID := fs.String("run", "", "run id (default: the latest run)")
	output := fs.String("output", "-", "output file")
	fs.Parse(args)

	if *format != "csv" && *format != "xlsx" {
		return fmt.Errorf("unknown format %q", *format)
	}
	a, err := newApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if *runID == "" {
		if *runID, err = store.LatestRunID(ctx); err != nil {
			return err
		}
	}
	preds, err := store.PredictionsByRun(ctx, *runID)
	if err != nil {
		return err
	}

	out, err := createOutput(*output)
	if err != nil {
		return err
	}
	write := exporter.WriteCSV
	if *format == "xlsx" {
		write = exporter.WriteXLSX
	}
	if err := write(out, preds); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	a.logger.Info("exported predictions", slog.String("run_id", *runID),
		slog.String("format", *format), slog.Int("rows", len(preds)))
	return nil
}
