package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/neo4j/graphql-sub030/internal/core/api"
	"github.com/neo4j/graphql-sub030/internal/core/auth"
	"github.com/neo4j/graphql-sub030/internal/core/config"
	"github.com/neo4j/graphql-sub030/internal/core/db"
	"github.com/neo4j/graphql-sub030/internal/core/metrics"
	"github.com/neo4j/graphql-sub030/internal/core/server"
	"github.com/neo4j/graphql-sub030/internal/core/tracing"
	"github.com/neo4j/graphql-sub030/internal/filter"
	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/source"
	"github.com/neo4j/graphql-sub030/internal/subscription"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC subscription service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50051, "gRPC server port")
	serveCmd.Flags().String("schema", "", "schema definition file (overrides schema_path)")
	serveCmd.Flags().String("source", "", "event source (nats, kafka, file)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("schema") {
		cfg.SchemaPath, _ = cmd.Flags().GetString("schema")
	}
	if cmd.Flags().Changed("source") {
		cfg.Source.Kind, _ = cmd.Flags().GetString("source")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	model, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	migrator, err := db.NewMigrator(database)
	if err != nil {
		return err
	}
	pending, err := migrator.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	if len(pending) > 0 {
		return fmt.Errorf("pending migrations %v - run 'graphql-sub migrate up' first", pending)
	}
	store, err := db.NewStore(database)
	if err != nil {
		return err
	}
	if n, err := store.EndOpen(ctx, db.ReasonShutdown); err != nil {
		return err
	} else if n > 0 {
		logger.Infof("closed %d subscription record(s) left open by a previous run", n)
	}

	secrets, err := config.JWTSecrets()
	if err != nil {
		return fmt.Errorf("failed to load JWT secrets: %w", err)
	}
	if len(secrets) == 0 {
		logger.Warn("no JWT secrets configured (set GQLSUB_JWT_SECRET); only anonymous subscriptions will be accepted")
	}
	verifier := auth.NewVerifier(secrets, auth.WithIssuer(cfg.JWT.Issuer), auth.WithClaimsRemap(cfg.JWT.Claims))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	registry := subscription.NewRegistry(model,
		subscription.WithLimits(filter.Limits{
			MaxDepth:    cfg.Limits.MaxDepth,
			MaxInValues: cfg.Limits.MaxInValues,
			MaxCost:     cfg.Limits.MaxCost,
		}),
		subscription.WithRecorder(store),
		subscription.WithMetrics(m),
		subscription.WithLogger(logger),
	)
	dispatcher := subscription.NewDispatcher(registry,
		subscription.WithWorkers(cfg.Dispatch.Workers),
		subscription.WithDispatchMetrics(m),
		subscription.WithDispatchLogger(logger),
	)

	service, err := api.NewService(registry, store, cfg.Dispatch.Buffer, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(cfg.Server, service, verifier, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	src, err := openSource(cfg.Source, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	logger.Infof("Starting graphql-sub v%s on %s:%d (source=%s)", Version, cfg.Server.Host, cfg.Server.Port, cfg.Source.Kind)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return src.Run(ctx, dispatcher.Dispatch)
	})
	p.Go(func(ctx context.Context) error {
		return grpcServer.Start()
	})
	if cfg.MetricsAddr != "" {
		p.Go(func(ctx context.Context) error {
			return metrics.Serve(ctx, cfg.MetricsAddr, reg, logger)
		})
	}
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		logger.Info("Shutting down gracefully...")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
		defer cancel()
		// Ending subscriptions first lets their streams return.
		registry.Close(sctx)
		return grpcServer.Shutdown(sctx)
	})
	return p.Wait()
}

func openSource(cfg config.SourceConfig, logger logrus.FieldLogger) (source.Source, error) {
	switch cfg.Kind {
	case "nats":
		return source.NewNATS(source.NATSConfig{
			URL:           cfg.NATS.URL,
			Subject:       cfg.NATS.Subject,
			Queue:         cfg.NATS.Queue,
			MaxReconnect:  cfg.NATS.MaxReconnect,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
	case "kafka":
		return source.NewKafka(source.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, logger)
	case "file":
		return source.OpenFile(cfg.File, logger)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
