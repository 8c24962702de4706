package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/akkaui/payments/internal/callbacks"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/money"
)

func main() {
	configPath := flag.String("config", os.Getenv("AKKAUI_CONFIG"), "path to config yaml (optional)")
	user := flag.String("user", "callback-test-user", "user id placed in the synthetic event")
	provider := flag.String("provider", "sandbox", "provider label")
	item := flag.String("item", "pro_month", "plan code sent as the single line item")
	amount := flag.String("amount", "49.00", "amount in major units")
	currency := flag.String("currency", "BRL", "ISO currency code")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Callbacks.PaymentCompletedURL == "" {
		log.Fatalf("callbacks.payment_completed_url is not configured")
	}

	asset, err := money.GetAsset(*currency)
	if err != nil {
		log.Fatalf("currency: %v", err)
	}
	total, err := money.FromMajor(asset, *amount)
	if err != nil {
		log.Fatalf("amount: %v", err)
	}

	event := callbacks.PaymentEvent{
		TransactionID: fmt.Sprintf("callbacktest-%d", time.Now().UnixNano()),
		UserID:        *user,
		Provider:      *provider,
		Amount:        total.ToMajor(),
		Currency:      asset.Code,
		Items: []callbacks.ItemLine{{
			Kind:     "subscription-plan",
			ID:       *item,
			Quantity: 1,
			Total:    total.ToMajor(),
		}},
		Source:     "callbacktest",
		OccurredAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := callbacks.SendOnce(ctx, cfg.Callbacks, event); err != nil {
		log.Fatalf("send callback: %v", err)
	}

	fmt.Println("callback delivered to", cfg.Callbacks.PaymentCompletedURL)
}
