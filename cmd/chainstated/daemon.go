package main

import (
	"context"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // served only when profilerAddr is set
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/services/chainstate"
	"github.com/bsv-blockchain/chainstate/services/notifier"
	notifierkafka "github.com/bsv-blockchain/chainstate/services/notifier/kafka"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/tracing"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/util/kafka"
	"github.com/bsv-blockchain/chainstate/vm/simple"
	"github.com/felixge/fgprof"
	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// daemon is a started chain state with the stores and publishers it owns.
type daemon struct {
	logger    ulogger.Logger
	settings  *settings.Settings
	stores    *chainstate.Stores
	cs        *chainstate.ChainState
	publisher *notifierkafka.Publisher
	scores    *chainstate.PeerScores
}

func loadSettings(c *cli.Context) (*settings.Settings, error) {
	tSettings := settings.NewSettings()

	if network := c.String("network"); network != "" {
		params, err := chaincfg.GetChainParams(network)
		if err != nil {
			return nil, err
		}

		tSettings.ChainCfgParams = params
	}

	return tSettings, nil
}

// startDaemon opens the stores and starts the chain state. The caller stops it with close.
func startDaemon(ctx context.Context, c *cli.Context) (*daemon, error) {
	tSettings, err := loadSettings(c)
	if err != nil {
		return nil, err
	}

	logger := ulogger.New(progname, ulogger.WithLevel(tSettings.LogLevel), ulogger.WithLoggerType(tSettings.LoggerType))

	logger.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", gocore.Config().Stats(), version, commit)

	if err = tracing.InitTracer(tSettings); err != nil {
		return nil, err
	}

	d := &daemon{
		logger:   logger,
		settings: tSettings,
	}

	if d.stores, err = chainstate.OpenStores(logger, tSettings); err != nil {
		return nil, err
	}

	n := notifier.New(logger.New("notify"))

	if kafkaURL := tSettings.Kafka.NotificationsURL; kafkaURL != nil {
		clusterAdmin, producer, err := kafka.NewKafkaProducer(kafkaURL)
		if err != nil {
			_ = d.stores.Close()
			return nil, err
		}

		_ = clusterAdmin.Close()

		query := kafkaURL.Query()

		batchSize, batchDuration := notifierkafka.DefaultTxBatchSize, notifierkafka.DefaultTxBatchDuration

		if v, err := strconv.Atoi(query.Get("tx_batch_size")); err == nil && v > 0 {
			batchSize = v
		}

		if v, err := strconv.Atoi(query.Get("tx_batch_ms")); err == nil && v > 0 {
			batchDuration = time.Duration(v) * time.Millisecond
		}

		d.publisher = notifierkafka.NewPublisherWithBatch(logger.New("kafka"), producer, query.Get("txs") == "true", batchSize, batchDuration)
		n.Register(d.publisher.Handle)

		logger.Infof("publishing notifications to %s", kafkaURL.Redacted())
	}

	d.scores = chainstate.NewPeerScores(tSettings.Policy.BanScore)
	scoreHandler := d.scores.Handler(func(peer string, score int, reason string) {
		logger.Warnf("peer %s reached ban score %d (last: %s)", peer, score, reason)
	})

	d.cs = chainstate.New(logger.New("chain"), tSettings, d.stores, simple.NewExecutor(logger.New("vm")), n,
		chainstate.WithMisbehaviorHandler(func(peer string, dos int, reason string) {
			logger.Warnf("peer %s misbehaved (%d): %s", peer, dos, reason)
			scoreHandler(peer, dos, reason)
		}),
	)

	if err = d.cs.Start(ctx); err != nil {
		d.close(ctx)
		return nil, err
	}

	return d, nil
}

// close stops the chain state, flushing it, and releases everything startDaemon opened.
func (d *daemon) close(ctx context.Context) {
	if err := d.cs.Stop(ctx); err != nil {
		d.logger.Errorf("failed to stop the chain state: %v", err)
	}

	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.logger.Errorf("failed to close the kafka publisher: %v", err)
		}
	}

	if err := d.stores.Close(); err != nil {
		d.logger.Errorf("failed to close the stores: %v", err)
	}

	if err := tracing.ShutdownTracer(ctx); err != nil {
		d.logger.Errorf("failed to shut down the tracer: %v", err)
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// shutdownContext bounds the final flush.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}

func run(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, err := startDaemon(ctx, c)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	var servers []*http.Server

	if addr := d.settings.ProfilerAddr; addr != "" {
		server := &http.Server{Addr: addr, Handler: http.DefaultServeMux, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, server)

		http.DefaultServeMux.Handle("/debug/fgprof", fgprof.Handler())

		d.logger.Infof("Starting profile on http://%s/debug/pprof", addr)
		d.logger.Infof("FGProf available at http://%s/debug/fgprof", addr)
		g.Go(func() error { return serve(server) })
	}

	if addr := d.settings.PrometheusListenAddress; addr != "" {
		mux := http.NewServeMux()
		mux.Handle(d.settings.PrometheusEndpoint, promhttp.Handler())

		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, server)

		d.logger.Infof("Starting prometheus endpoint on %s%s", addr, d.settings.PrometheusEndpoint)
		g.Go(func() error { return serve(server) })
	}

	tip := d.cs.Tip()
	d.logger.Infof("running at height %d, tip %s", tip.Height, tip.Hash)

	<-gCtx.Done()

	d.logger.Infof("received shutdown signal")

	shutdownCtx, shutdownCancel := shutdownContext()
	defer shutdownCancel()

	for _, server := range servers {
		_ = server.Shutdown(shutdownCtx)
	}

	d.close(shutdownCtx)

	return g.Wait()
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.NewServiceError("http server on %s failed", server.Addr, err)
	}

	return nil
}
