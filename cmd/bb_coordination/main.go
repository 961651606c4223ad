package main

import (
	"context"
	"net/http"
	"os"

	"github.com/buildbarn/bb-coordination/pkg/configuration"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-coordination/pkg/persistence/journal"
	"github.com/buildbarn/bb-coordination/pkg/store"
	"github.com/buildbarn/bb-coordination/pkg/tree"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// badgerLogger forwards the log messages of Badger to zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

func main() {
	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		flags := pflag.NewFlagSet("bb_coordination", pflag.ContinueOnError)
		loadSnapshot := flags.String("load-snapshot", "", "Restore the tree from a snapshot file before starting, instead of from the journal")
		saveSnapshot := flags.String("save-snapshot", "", "Write a snapshot of the tree to a file upon shutdown")
		if err := flags.Parse(os.Args[1:]); err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		if flags.NArg() != 1 {
			return status.Error(codes.InvalidArgument, "Usage: bb_coordination [flags] bb_coordination.jsonnet")
		}
		applicationConfiguration, err := configuration.GetApplicationConfiguration(flags.Arg(0))
		if err != nil {
			return util.StatusWrapf(err, "Failed to read configuration from %s", flags.Arg(0))
		}

		logger, err := configuration.NewLoggerFromConfiguration(&applicationConfiguration.Logging)
		if err != nil {
			return util.StatusWrap(err, "Failed to create logger")
		}
		errorLogger := configuration.NewZapErrorLogger(logger)

		// Durable storage of committed change lists.
		var recordJournal persistence.Journal
		pendingCommitsLimit := 0
		if journalConfiguration := applicationConfiguration.Journal; journalConfiguration != nil {
			options := badger.DefaultOptions(journalConfiguration.Path).
				WithInMemory(journalConfiguration.InMemory).
				WithLogger(badgerLogger{SugaredLogger: logger.Named("badger").Sugar()})
			db, err := badger.Open(options)
			if err != nil {
				return util.StatusWrapfWithCode(err, codes.Internal, "Failed to open journal at %#v", journalConfiguration.Path)
			}
			dependenciesGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				<-ctx.Done()
				if err := db.Close(); err != nil {
					return util.StatusWrapWithCode(err, codes.Internal, "Failed to close journal")
				}
				return nil
			})
			lastTxID, err := journal.LastTransactionID(db)
			if err != nil {
				return err
			}
			logger.Info("Opened journal",
				zap.String("path", journalConfiguration.Path),
				zap.Int64("last_transaction_id", lastTxID))
			recordJournal = journal.NewBadgerJournal(db)
			pendingCommitsLimit = journalConfiguration.PendingCommitsLimit
		}

		factory := persistence.NewInMemoryFactory(recordJournal, pendingCommitsLimit, errorLogger)
		if *loadSnapshot != "" {
			f, err := os.Open(*loadSnapshot)
			if err != nil {
				return util.StatusWrapfWithCode(err, codes.NotFound, "Failed to open snapshot %#v", *loadSnapshot)
			}
			err = factory.LoadFrom(f)
			f.Close()
			if err != nil {
				return util.StatusWrapf(err, "Failed to load snapshot %#v", *loadSnapshot)
			}
		} else if err := factory.LoadFromJournal(ctx); err != nil {
			return err
		}
		if recordJournal != nil {
			dependenciesGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				return factory.ProcessCommits(ctx)
			})
		}

		treeConfiguration, err := configuration.NewTreeConfiguration(applicationConfiguration, logger)
		if err != nil {
			return util.StatusWrap(err, "Failed to create tree configuration")
		}
		tr, err := tree.NewTree(factory, treeConfiguration)
		if err != nil {
			return util.StatusWrap(err, "Failed to load tree")
		}
		logger.Info("Loaded tree",
			zap.Int64("nodes", factory.TotalNodes()),
			zap.Int64("data_size_bytes", factory.TotalDataSize()),
			zap.Int64("last_transaction_id", tr.LastTxID()))

		storeConfiguration, err := configuration.NewTreeStoreConfiguration(applicationConfiguration)
		if err != nil {
			return util.StatusWrap(err, "Failed to create store configuration")
		}
		s := store.NewTracingStore(
			store.NewMetricsStore(
				store.NewTreeStore(tr, storeConfiguration),
				clock.SystemClock),
			otel.GetTracerProvider())

		if *saveSnapshot != "" {
			dependenciesGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				<-ctx.Done()
				f, err := os.Create(*saveSnapshot)
				if err != nil {
					return util.StatusWrapfWithCode(err, codes.Internal, "Failed to create snapshot %#v", *saveSnapshot)
				}
				defer f.Close()
				if err := factory.SaveTo(f); err != nil {
					return util.StatusWrapf(err, "Failed to write snapshot %#v", *saveSnapshot)
				}
				logger.Info("Wrote snapshot", zap.String("path", *saveSnapshot))
				return nil
			})
		}

		// Web server for metrics and diagnostics.
		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.Handler())
		router.HandleFunc("/-/healthy", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		(&diagnosticsService{
			store:    s,
			factory:  factory,
			lockDown: tr.LockDown(),
			logger:   logger.Named("diagnostics"),
		}).register(router)
		server := &http.Server{
			Addr:    applicationConfiguration.MetricsListenAddress,
			Handler: router,
		}
		siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			go func() {
				<-ctx.Done()
				server.Close()
			}()
			logger.Info("Serving diagnostics", zap.String("address", server.Addr))
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				return util.StatusWrap(err, "Failed to serve diagnostics")
			}
			return nil
		})
		return nil
	})
}
