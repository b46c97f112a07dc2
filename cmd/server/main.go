package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/cache"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/config"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/httpapi"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/logger"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/service"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store/memory"
	pgstore "github.com/VoinzzZ/POS-Mobile-sub002/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.NewForEnvironment(cfg.AppEnv, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, seedCatalog, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("repository unavailable", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	valuations, guard, closeCache := openCache(ctx, cfg, log)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	svc := service.New(repo, valuations, guard, service.Options{
		DefaultStoreID: cfg.StoreID,
		Location:       cfg.BusinessLocation(),
		AllowBackorder: cfg.StockAllowBackorder,
		ValuationTTL:   cfg.ValuationCacheTTL(),
		SyncGuardTTL:   cfg.SyncGuardTTL(),
		RetryAttempts:  cfg.TxRetryAttempts,
	}, log)

	if seedCatalog {
		if err := seedDemoCatalog(ctx, svc, cfg.StoreID); err != nil {
			log.Fatal("failed to seed demo catalog", zap.Error(err))
		}
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("POS ledger listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}
	log.Info("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set and never falls
// back to memory in that case. The memory store asks for a demo catalog.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, bool, func() error, error) {
	if cfg.DatabaseURL == "" {
		repo, err := memory.NewSeeded(log)
		if err != nil {
			return nil, false, nil, fmt.Errorf("memory: %w", err)
		}
		log.Info("repository: in-memory")
		return repo, true, nil, nil
	}

	if cfg.DBAutoMigrate {
		if err := pgstore.Migrate(cfg.DatabaseURL, log); err != nil {
			return nil, false, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, false, nil, fmt.Errorf("postgres: %w", err)
	}
	log.Info("repository: postgres")
	return pg, false, pg.Close, nil
}

// openCache uses Redis for both the valuation cache and the sync guard when
// it answers, and process-local caches otherwise.
func openCache(ctx context.Context, cfg config.Config, log *zap.Logger) (cache.ValuationCache, cache.SyncGuard, func() error) {
	if cfg.RedisAddr == "" {
		log.Info("cache: local")
		return cache.NewLocalValuationCache(), cache.NewLocalSyncGuard(), nil
	}
	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn("redis unavailable, using local cache", zap.Error(err))
		_ = redisCache.Close()
		return cache.NewLocalValuationCache(), cache.NewLocalSyncGuard(), nil
	}
	log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
	return redisCache, redisCache, redisCache.Close
}

var demoCatalog = []domain.ProductCreateRequest{
	{SKU: "SKU-KOPI-250", Name: "Kopi Bubuk 250g", Category: "minuman", PriceCents: 3500000, MinStock: 5, InitialStock: 40, InitialCostCents: 2600000},
	{SKU: "SKU-TEH-25", Name: "Teh Celup isi 25", Category: "minuman", PriceCents: 850000, MinStock: 10, InitialStock: 60, InitialCostCents: 600000},
	{SKU: "SKU-GULA-1KG", Name: "Gula Pasir 1kg", Category: "sembako", PriceCents: 1750000, MinStock: 10, InitialStock: 50, InitialCostCents: 1500000},
	{SKU: "SKU-MIE-GRG", Name: "Mie Instan Goreng", Category: "makanan", PriceCents: 350000, MinStock: 24, InitialStock: 120, InitialCostCents: 280000},
	{SKU: "SKU-AIR-600", Name: "Air Mineral 600ml", Category: "minuman", PriceCents: 400000, MinStock: 24, InitialStock: 96, InitialCostCents: 250000},
}

// seedDemoCatalog books the demo products through the service so every
// opening quantity has a PURCHASE movement behind it.
func seedDemoCatalog(ctx context.Context, svc *service.Service, storeID string) error {
	seedCtx := service.WithActor(ctx, domain.Actor{Username: "system", Role: domain.RoleAdmin, StoreID: storeID})
	for _, req := range demoCatalog {
		if _, err := svc.CreateProduct(seedCtx, req); err != nil {
			return fmt.Errorf("seed %s: %w", req.SKU, err)
		}
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated-digit, sequential and well-known PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "159753": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
