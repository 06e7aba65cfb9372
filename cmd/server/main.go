package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cafepos/internal/cache"
	"cafepos/internal/config"
	"cafepos/internal/httpapi"
	"cafepos/internal/service"
	"cafepos/internal/store"
	"cafepos/internal/store/memory"
	pgstore "cafepos/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("invalid .env file: %v", err)
	}
	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				log.Fatalf("schema migration failed: %v", err)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else if cfg.SeedDemo {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory (demo menu)")
	} else {
		repo = memory.New()
		log.Println("repository: in-memory")
	}

	carts := cache.CartStore(cache.NewMemoryCartStore())
	if cfg.RedisAddr != "" {
		redisCarts := cache.NewRedisCartStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCarts.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), keeping carts in memory", err)
			_ = redisCarts.Close()
		} else {
			carts = redisCarts
			closers = append(closers, redisCarts.Close)
			log.Println("cart sessions: redis")
		}
	} else {
		log.Println("cart sessions: memory")
	}

	svc := service.New(repo, carts, service.Options{
		AllowOversell:  cfg.AllowOversell,
		HideOutOfStock: cfg.HideOutOfStock,
		CartTTL:        cfg.CartTTL,
	})
	api := httpapi.New(svc, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("cafepos listening on %s (oversell=%t hide_out_of_stock=%t)", cfg.Address(), cfg.AllowOversell, cfg.HideOutOfStock)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateConfig(cfg config.Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative")
	}
	if cfg.CartTTL <= 0 {
		return fmt.Errorf("CART_TTL_MINUTES must be positive")
	}
	if cfg.DatabaseURL != "" && cfg.SeedDemo {
		log.Println("[config] SEED_DEMO only applies to the in-memory repository; ignoring")
	}
	return nil
}
