package main

import (
	"context"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/bahaybooking/ledger/internal/api"
	"github.com/bahaybooking/ledger/internal/config"
	"github.com/bahaybooking/ledger/internal/notify"
	"github.com/bahaybooking/ledger/internal/service"
	"github.com/bahaybooking/ledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := store.NewPostgres(context.Background(), cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		notifier = notify.NewAMQP(cfg.AMQPURL)
	}

	fees := service.DefaultFeePolicy()
	fees[service.SettleBooking] = cfg.FeeBps

	guard := service.NewConflictGuard(db)
	settlement := service.NewSettlement(db, notifier, cfg.PlatformAccountID, fees)
	refund := service.NewRefund(db, notifier, cfg.PlatformAccountID)
	withdrawal := service.NewWithdrawal(db, notifier)

	var limiter *api.RateLimiter
	if cfg.RedisAddr != "" {
		limiter = api.NewRateLimiter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RateLimitPerMin)
	}

	handler := api.NewHandler(guard, settlement, refund, withdrawal, db)
	router := api.NewRouter(handler, limiter)

	log.Printf("Server starting on :%s (env=%s, platform account=%s)", cfg.Port, cfg.Env, cfg.PlatformAccountID)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal(err)
	}
}
