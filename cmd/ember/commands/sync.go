package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	dbm "github.com/tendermint/tm-db"
	"golang.org/x/sync/errgroup"

	"github.com/emberchain/ember/config"
	"github.com/emberchain/ember/internal/blockexchange"
	"github.com/emberchain/ember/internal/chainsync"
	"github.com/emberchain/ember/internal/execution"
	"github.com/emberchain/ember/internal/store"
	"github.com/emberchain/ember/libs/log"
)

// MakeSyncCommand constructs the command that runs the sync engine until
// interrupted.
func MakeSyncCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download, validate and persist the chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), conf, logger)
		},
	}
	cmd.Flags().String("db-backend", conf.DBBackend, "database backend: memdb | goleveldb")
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus, "enable prometheus metrics")
	return cmd
}

func runSync(ctx context.Context, conf *config.Config, logger log.Logger) error {
	db, err := dbm.NewDB("chain", dbm.BackendType(conf.DBBackend), conf.DBDir())
	if err != nil {
		return err
	}
	blockStore := store.NewBlockStore(db)
	defer blockStore.Close()

	execClient := execution.NewClient(
		logger.With("module", "execution"),
		blockStore,
		execution.DefaultRuleSet{},
	)

	exchange := blockexchange.NewExchange(
		logger.With("module", "exchange"),
		conf.Sync,
		noopTransport{},
	)

	metrics := chainsync.NopMetrics()
	if conf.Instrumentation.Prometheus {
		metrics = chainsync.PrometheusMetrics(conf.Instrumentation.Namespace)
	}

	engine := chainsync.NewEngine(
		logger.With("module", "chainsync"),
		conf.Sync,
		exchange,
		execClient,
		metrics,
	)

	g, ctx := errgroup.WithContext(ctx)

	if conf.Instrumentation.Prometheus {
		srv := &http.Server{
			Addr:    conf.Instrumentation.PrometheusListenAddr,
			Handler: promhttp.Handler(),
		}
		g.Go(func() error {
			logger.Info("serving prometheus metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		if err := exchange.Start(ctx); err != nil {
			return err
		}
		if err := engine.Start(ctx); err != nil {
			return err
		}
		engine.Wait()
		return engine.Err()
	})

	return g.Wait()
}

// noopTransport stands in until a network layer is wired up. With no peers
// registered the exchange never issues requests, so the engine idles at the
// local head.
type noopTransport struct{}

func (noopTransport) RequestBlock(peer blockexchange.PeerID, height uint64) error {
	return errors.New("no transport configured")
}

func (noopTransport) Broadcast(msg chainsync.Message) {}
