// Command hedgerd runs the delta-hedging engine: it loads every portfolio
// under the configured portfolios directory and starts a hedger for each,
// keeping net delta within each portfolio's configured band until signaled
// to stop.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deltahedge/engine/config"
	"github.com/deltahedge/engine/pkg/delta"
	"github.com/deltahedge/engine/pkg/eventbus"
	"github.com/deltahedge/engine/pkg/exchange"
	"github.com/deltahedge/engine/pkg/logger"
	"github.com/deltahedge/engine/pkg/manager"
	"github.com/deltahedge/engine/pkg/portfolio"
	"github.com/deltahedge/engine/pkg/pricer"
	"github.com/deltahedge/engine/pkg/risk"
	"github.com/deltahedge/engine/pkg/subscription"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Delta Hedging Engine v1.0")

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(64)
	}

	slogger, err := logger.New(logger.Config{
		FilePath: cfg.LogFilePath,
		Level:    cfg.LogLevel,
	})
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		os.Exit(70)
	}

	store, err := portfolio.NewFileStore(cfg.PortfoliosDir)
	if err != nil {
		log.Printf("failed to open portfolio store: %v", err)
		os.Exit(70)
	}
	bus := eventbus.New()
	store.SetBus(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := delta.NewService(cfg)
	if err := svc.Connect(ctx); err != nil {
		log.Printf("failed to connect to exchange: %v", err)
		os.Exit(70)
	}
	defer svc.Close()

	if _, err := svc.GetAccountSummary(ctx); err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			log.Printf("authentication failed: %v", authErr)
			os.Exit(69)
		}
		log.Printf("failed to verify exchange credentials: %v", err)
		os.Exit(70)
	}

	subs := subscription.NewManager(svc)
	guard := risk.NewGuard(cfg)
	mgr := manager.New(svc, subs, store, guard, slogger, bus, cfg.PnLRingDepth, cfg.PnLPublishInterval, pricer.NewBlackScholes())

	svc.OnReconcile(func(reason string) {
		slogger.Info("reconciliation_triggered", "reason", reason, "timestamp", time.Now())
		mgr.Reconcile(context.Background(), reason)
	})

	ids, err := store.List()
	if err != nil {
		log.Printf("failed to list portfolios: %v", err)
		os.Exit(70)
	}
	for _, id := range ids {
		if err := mgr.Start(ctx, id); err != nil {
			log.Printf("failed to start hedger for portfolio %s: %v", id, err)
		}
	}

	go balancePoller(ctx, svc, mgr, 30*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down, stopping all hedgers")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
	defer stopCancel()
	for _, id := range ids {
		if err := mgr.Stop(stopCtx, id); err != nil {
			log.Printf("error stopping hedger for portfolio %s: %v", id, err)
		}
	}
}

// balancePoller periodically feeds the account balance into the risk
// guard so the circuit breaker reacts even between hedge attempts.
func balancePoller(ctx context.Context, svc *delta.Service, mgr *manager.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := svc.GetAccountSummary(ctx)
			if err != nil {
				log.Printf("balance poll failed: %v", err)
				continue
			}
			mgr.OnBalanceUpdate(ctx, summary.NetEquity)
		}
	}
}
