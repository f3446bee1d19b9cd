package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-refer/dataset"
	"github.com/nvr-ai/go-refer/loader"
	"github.com/nvr-ai/go-refer/profiler"
)

// limited caps the number of examples a bench run visits.
type limited struct {
	*dataset.Dataset
	n int
}

func (l limited) Len() int { return l.n }

func newBenchCmd(flags *globalFlags) *cobra.Command {
	var (
		limit    int
		serve    bool
		linger   time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Assemble every example with the concurrent loader and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ds, closeAll, err := openDataset(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if serve {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					log.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()
				defer func() {
					shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
					defer done()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			n := ds.Len()
			if limit > 0 && limit < n {
				n = limit
			}

			prof := profiler.New(profiler.Options{ReportInterval: interval, Logger: log.Logger})
			prof.Start()

			start := time.Now()
			batchStart := time.Now()
			examples, candidates := 0, 0
			err = loader.Each(ctx, limited{Dataset: ds, n: n}, cfg.BatchSize, cfg.Workers, func(batch []*dataset.Example) error {
				prof.Record("batch_ms", float64(time.Since(batchStart).Microseconds())/1000)
				for _, ex := range batch {
					candidates += ex.Count
					prof.Record("candidates", float64(ex.Count))
				}
				examples += len(batch)
				log.Debug().Int("done", examples).Int("total", n).Msg("Batch assembled")
				batchStart = time.Now()
				return nil
			})
			prof.Stop()
			if err != nil {
				return err
			}
			prof.Report()

			elapsed := time.Since(start)
			ev := log.Info().
				Int("examples", examples).
				Int("workers", cfg.Workers).
				Int("batch_size", cfg.BatchSize).
				Dur("elapsed", elapsed)
			if examples > 0 {
				ev = ev.Float64("examples_per_sec", float64(examples)/elapsed.Seconds()).
					Float64("mean_candidates", float64(candidates)/float64(examples))
			}
			ev.Msg("Bench complete")

			if serve && linger > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(linger):
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of examples (0 for all)")
	cmd.Flags().BoolVar(&serve, "serve-metrics", false, "Expose Prometheus metrics on metrics_addr")
	cmd.Flags().DurationVar(&linger, "linger", 0, "Keep serving metrics for this long after the run")
	cmd.Flags().DurationVar(&interval, "report-interval", 5*time.Second, "Interval between profiler reports")
	return cmd
}
