package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ygrebnov/bulkexport"
	"github.com/ygrebnov/bulkexport/audit"
	"github.com/ygrebnov/bulkexport/enrich"
	cfgpkg "github.com/ygrebnov/bulkexport/internal/config"
	"github.com/ygrebnov/bulkexport/lists"
	"github.com/ygrebnov/bulkexport/metrics"
	"github.com/ygrebnov/bulkexport/search"
	"github.com/ygrebnov/bulkexport/sink"
)

func newRunCmd(load func() (cfgpkg.Config, error)) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Index the records file and run the configured exports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if len(only) > 0 {
				cfg.Exports = selectExports(cfg.Exports, only)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(cfg.Exports) == 0 {
				return errors.New("no exports configured")
			}
			log := newLogger(cfg, os.Stderr)
			results, err := runExports(cmd.Context(), cfg, log)
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d\n", r.Name, r.JobID, r.Status, r.Rows)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&only, "export", nil, "run only the named exports")
	return cmd
}

func selectExports(all []cfgpkg.Export, names []string) []cfgpkg.Export {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out []cfgpkg.Export
	for _, e := range all {
		if _, ok := want[e.Name]; ok {
			out = append(out, e)
		}
	}
	return out
}

type exportResult struct {
	Name   string
	JobID  string
	Status bulkexport.Status
	Rows   int64
	// Extra lists the extra column names appended after the fixed header.
	Extra []string
}

// runExports wires the engine from cfg and runs every export concurrently.
// It returns once all exports ended; the error is the first export failure.
func runExports(ctx context.Context, cfg cfgpkg.Config, log zerolog.Logger) ([]exportResult, error) {
	backend, err := openBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	store, err := audit.Open(cfg.AuditDB)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	defer store.Close()

	opts := []bulkexport.Option{
		bulkexport.WithBackend(backend),
		bulkexport.WithPoolSize(cfg.PoolSize),
		bulkexport.WithFairnessDelay(cfg.FairnessDelay),
		bulkexport.WithQueueCapacity(cfg.QueueCapacity),
		bulkexport.WithOfferTimeout(cfg.OfferTimeout),
		bulkexport.WithCheckInterval(cfg.CheckInterval),
		bulkexport.WithBatchSize(cfg.BatchSize),
		bulkexport.WithRecorder(store),
		bulkexport.WithLogger(log),
	}
	if cfg.ThrottlePerSecond > 0 {
		opts = append(opts, bulkexport.WithThrottle(rate.Limit(cfg.ThrottlePerSecond), 1))
	}
	if cfg.LayersURL != "" {
		lc, err := enrich.NewLayersClient(cfg.LayersURL, enrich.WithLogger(log))
		if err != nil {
			return nil, err
		}
		opts = append(opts, bulkexport.WithEnricher(lc))
	}
	if cfg.ListsFile != "" {
		ls, err := lists.Load(cfg.ListsFile)
		if err != nil {
			return nil, fmt.Errorf("load lists: %w", err)
		}
		opts = append(opts, bulkexport.WithLists(ls))
	}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, bulkexport.WithMetrics(metrics.NewPrometheusProvider("bulkexport", reg)))
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	eng, err := bulkexport.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := eng.Close(cctx); err != nil {
			log.Warn().Err(err).Msg("engine close")
		}
	}()

	results := make([]exportResult, len(cfg.Exports))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range cfg.Exports {
		g.Go(func() error {
			r, err := runExport(gctx, eng, e)
			results[i] = r
			if err != nil {
				log.Error().Err(err).Str("export", e.Name).Msg("export failed")
				return fmt.Errorf("export %s: %w", e.Name, err)
			}
			log.Info().Str("export", e.Name).Str("job", r.JobID).Int64("rows", r.Rows).Msg("export finished")
			return nil
		})
	}
	return results, g.Wait()
}

func runExport(ctx context.Context, eng *bulkexport.Engine, e cfgpkg.Export) (exportResult, error) {
	res := exportResult{Name: e.Name}
	h := e.Headers()

	// with extra columns the header is only known at the end, so rows are
	// spooled headerless and rewritten once the export ended
	path, header := e.Output, h.Names()
	if e.IncludeExtra {
		path, header = e.Output+".part", nil
	}
	f, err := os.Create(path)
	if err != nil {
		return res, err
	}
	out, err := sink.NewCSV(f, header)
	if err != nil {
		_ = f.Close()
		return res, err
	}
	j, err := eng.Submit(ctx, bulkexport.Request{
		User:               e.User,
		Address:            e.Address,
		Ceiling:            e.Ceiling,
		Partitions:         e.Queries(),
		Headers:            h,
		Sink:               out,
		IncludeMultivalues: e.IncludeMultivalues,
		IncludeExtra:       e.IncludeExtra,
	})
	if err != nil {
		_ = out.Finalise()
		if e.IncludeExtra {
			_ = os.Remove(path)
		}
		return res, err
	}
	res.JobID = j.ID()

	// a cancelled run still waits for the job so its sink is finalised
	select {
	case <-j.Done():
	case <-ctx.Done():
		j.Cancel()
		<-j.Done()
	}
	res.Status = j.Status()
	res.Rows = j.Written()
	res.Extra = j.ExtraColumns()
	if e.IncludeExtra {
		if err := padOutput(path, e.Output, append(h.Names(), res.Extra...)); err != nil {
			return res, fmt.Errorf("write %s: %w", e.Output, err)
		}
	}
	return res, j.Err()
}

// padOutput rewrites the spooled rows at part into output under header and removes part.
func padOutput(part, output string, header []string) error {
	src, err := os.Open(part)
	if err != nil {
		return err
	}
	dst, err := os.Create(output)
	if err != nil {
		_ = src.Close()
		return err
	}
	_, err = sink.Pad(dst, src, header)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	_ = src.Close()
	if err != nil {
		return err
	}
	return os.Remove(part)
}

// exportBackend is the search backend plus the hooks the command needs.
type exportBackend interface {
	search.Backend
	batchIndexer
	Close() error
}

func openBackend(cfg cfgpkg.Config, log zerolog.Logger) (exportBackend, error) {
	var (
		b   *search.BleveBackend
		err error
	)
	if cfg.IndexPath == "" {
		b, err = search.NewMemBleve()
	} else {
		b, err = search.OpenBleve(cfg.IndexPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if cfg.RecordsFile != "" {
		n, err := loadRecords(cfg.RecordsFile, b)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("index %s: %w", cfg.RecordsFile, err)
		}
		log.Info().Int("records", n).Str("file", cfg.RecordsFile).Msg("records indexed")
	}
	return b, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	return srv
}
