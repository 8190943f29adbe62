package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/alloc"
	"github.com/orbitenv/orbit/internal/api"
	"github.com/orbitenv/orbit/internal/collab"
	"github.com/orbitenv/orbit/internal/engine"
	"github.com/orbitenv/orbit/internal/executor"
	"github.com/orbitenv/orbit/internal/lifecycle"
	"github.com/orbitenv/orbit/internal/observability"
	"github.com/orbitenv/orbit/internal/registry"
	"github.com/orbitenv/orbit/internal/runtime"
	"github.com/orbitenv/orbit/internal/sampler"
	"github.com/orbitenv/orbit/internal/scheduler"
	"github.com/orbitenv/orbit/internal/store"
)

type serverConfig struct {
	DBDSN             string `envconfig:"ORBIT_DB_DSN" required:"true"`
	LogLevel          string `envconfig:"ORBIT_LOG_LEVEL" default:"info"`
	ApprovalCompanies string `envconfig:"ORBIT_APPROVAL_COMPANIES" default:""`
}

func main() {
	var cfg serverConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	var (
		apiCfg       api.Config
		engineCfg    engine.Config
		executorCfg  executor.Config
		runtimeCfg   runtime.Config
		lifecycleCfg lifecycle.Config
		samplerCfg   sampler.Config
		schedulerCfg scheduler.Config
	)
	for _, c := range []interface{}{
		&apiCfg, &engineCfg, &executorCfg, &runtimeCfg, &lifecycleCfg, &samplerCfg, &schedulerCfg,
	} {
		if err := envconfig.Process("", c); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	reg := prometheus.DefaultRegisterer
	observability.RegisterAll(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	st := store.New(pool)

	// Global allocators, rebuilt from persisted grants so a restart never
	// double-grants a port or namespace.
	ports := alloc.NewPorts(executorCfg.PortRangeMin, executorCfg.PortRangeMax)
	namespaces := alloc.NewNamespaces(executorCfg.SchemaPrefix)
	allocations, err := st.ListAllocations(ctx)
	if err != nil {
		log.Fatal("allocator seed failed", zap.Error(err))
	}
	for _, a := range allocations {
		if a.Port != nil {
			ports.Seed(a.WSID, *a.Port)
		}
		if a.Namespace != nil {
			namespaces.Seed(a.WSID, *a.Namespace)
		}
	}
	log.Info("allocators seeded", zap.Int("grants", len(allocations)))

	notifier := &collab.LogNotifier{Log: log.Named("notify")}
	approval := collab.NewStaticApprovalPolicy(cfg.ApprovalCompanies)
	billing := collab.AllowAllBilling{}

	rt := runtime.NewLocal(runtimeCfg, log.Named("runtime"))
	controller := lifecycle.New(st, rt, lifecycleCfg, log.Named("lifecycle"))

	actions := executor.DefaultRegistry(executorCfg, pool, ports, namespaces)
	templates := registry.New(st, actions)
	eng := engine.New(st, actions, controller, notifier, engineCfg, log.Named("engine"))
	sched := scheduler.New(pool, st, eng, schedulerCfg, log.Named("scheduler"))
	smp := sampler.New(st, rt, controller, notifier, samplerCfg, log.Named("sampler"))

	apiHandler := api.NewAPI(api.Deps{
		Store:      st,
		Templates:  templates,
		Engine:     eng,
		Lifecycle:  controller,
		Billing:    billing,
		Approval:   approval,
		Ports:      ports,
		Namespaces: namespaces,
		DB:         pool,
		Log:        log.Named("api"),
	})

	srv := &http.Server{
		Addr:         apiCfg.HTTPAddr,
		Handler:      apiHandler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    apiCfg.MetricsAddr,
		Handler: mux,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		smp.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(lifecycleCfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := controller.SweepAutoStop(ctx); err != nil {
					log.Warn("auto-stop sweep failed", zap.Error(err))
				}
			}
		}
	}()

	go func() {
		log.Info("metrics server starting", zap.String("addr", apiCfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("API server starting", zap.String("addr", apiCfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), apiCfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()

	log.Info("stopped")
}
