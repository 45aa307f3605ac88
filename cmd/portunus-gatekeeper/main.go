package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/config"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/console"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/adapters"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/grpcapi"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/httpapi"
)

func main() {
	logger := log.New(os.Stdout, "portunus-gatekeeper ", log.LstdFlags|log.LUTC)

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("exit: %v", err)
	}
}

// loadConfig layers environment, then the optional YAML file, then flags.
func loadConfig(args []string) (config.Config, error) {
	cfg := config.FromEnv()

	fs := pflag.NewFlagSet("portunus-gatekeeper", pflag.ContinueOnError)
	path := fs.String("config", os.Getenv("GATEKEEPER_CONFIG"), "YAML config file")
	httpAddr := fs.String("http-addr", "", "visit API listen address")
	consoleAddr := fs.String("console-addr", "", "operator console listen address")
	grpcAddr := fs.String("grpc-addr", "", "gRPC health listen address")
	lookup := fs.String("lookup-backend", "", "memory | sqlite")
	pending := fs.String("pending-backend", "", "memory | redis")
	redisAddr := fs.String("redis-addr", "", "redis address for the redis pending backend")
	dbPath := fs.String("db-path", "", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *path != "" {
		if err := config.LoadFile(*path, &cfg); err != nil {
			return cfg, err
		}
	}

	overrides := map[string]struct {
		val *string
		dst *string
	}{
		"http-addr":       {httpAddr, &cfg.HTTPAddr},
		"console-addr":    {consoleAddr, &cfg.ConsoleAddr},
		"grpc-addr":       {grpcAddr, &cfg.GRPCAddr},
		"lookup-backend":  {lookup, &cfg.LookupBackend},
		"pending-backend": {pending, &cfg.PendingBackend},
		"redis-addr":      {redisAddr, &cfg.RedisAddr},
		"db-path":         {dbPath, &cfg.DBPath},
	}
	for name, o := range overrides {
		if fs.Changed(name) {
			*o.dst = *o.val
		}
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	hc := &http.Client{Timeout: 10 * time.Second}
	relay := adapters.NewRelayNotifier(cfg.RelayURL, hc)
	channels := []service.Notifier{relay}
	if cfg.PBXURL != "" {
		channels = append(channels, adapters.NewVoiceNotifier(adapters.VoiceConfig{
			PBXURL: cfg.PBXURL,
			Region: cfg.PollyRegion,
			Voice:  cfg.PollyVoice,
		}, hc))
	}

	doors := service.NewDoorRegistry(st.doors)
	visits := service.NewVisitService(service.Deps{
		Doors:      doors,
		Vehicles:   st.vehicles,
		Visitors:   st.visitors,
		Residents:  st.residents,
		Pending:    st.pending,
		Events:     st.events,
		Recognizer: adapters.NewHTTPRecognizer(cfg.RecognitionURL, hc),
		Gate:       adapters.NewHTTPGate(cfg.GateURL, hc),
		Notifier:   adapters.NewFanoutNotifier(logger, channels...),
		Logger:     logger,
	}, service.VisitConfig{
		PlateConfidence: cfg.PlateConfidence,
		IDConfidence:    cfg.IDConfidence,
		MaxVariations:   cfg.MaxNameVariations,
	})

	var esc service.Escalator
	operatorTimeout := time.Duration(0)
	if cfg.OperatorEscalation {
		esc = adapters.NewOperatorEscalator(relay, cfg.OperatorPhone)
		operatorTimeout = cfg.OperatorTimeout
	}
	sweeper := service.NewExpirySweeper(st.pending, visits.Registry(), esc, service.SweeperConfig{
		MaxAge:          cfg.PendingMaxAge,
		Interval:        cfg.SweepInterval,
		OperatorTimeout: operatorTimeout,
		SessionTimeout:  cfg.SessionTimeout,
		Retention:       cfg.SessionRetention,
	}, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	api := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger,
		Addr:          cfg.HTTPAddr,
		VisitService:  visits,
		CallbackRate:  cfg.CallbackRate,
		CallbackBurst: cfg.CallbackBurst,
	})

	var lis net.Listener
	if cfg.GRPCAddr != "" {
		if lis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("visit API listening on %s", cfg.HTTPAddr)
		return serveHTTP(api.Start())
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(api.Shutdown)
	})

	if cfg.ConsoleAddr != "" {
		con := console.NewServer(cfg.ConsoleAddr, &console.Handler{
			Visits:  visits,
			Doors:   doors,
			Pending: st.pending,
			Events:  st.events,
			Logger:  logger,
		})
		g.Go(func() error {
			logger.Printf("operator console listening on %s", cfg.ConsoleAddr)
			return serveHTTP(con.Start())
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdown(con.Shutdown)
		})
	}

	if lis != nil {
		health := grpcapi.NewServer(logger)
		g.Go(func() error { return health.Serve(lis) })
		g.Go(func() error {
			<-gctx.Done()
			health.Stop()
			return nil
		})
	}

	err = g.Wait()
	logger.Printf("shutdown complete")
	return err
}

func serveHTTP(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func shutdown(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return fn(ctx)
}
