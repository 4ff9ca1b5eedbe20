package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cashflow/platform/internal/app/money"
	"github.com/cashflow/platform/internal/app/replicas"
	"github.com/cashflow/platform/internal/platform/bootstrap"
	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.LoadConfig(money.ServiceName)
	rt, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("money startup failed")
	}
	defer rt.Close()

	svc := money.NewService(money.Deps{
		Transactions: bootstrap.Backend[money.Transaction](rt, "money_transactions"),
		Users:        bootstrap.Backend[replicas.User](rt, "money_users"),
		Tasks:        bootstrap.Backend[replicas.Task](rt, "money_tasks"),
		Bus:          rt.Bus(),
		Tokens:       rt.Tokens(),
		Policy:       cfg.Redelivery,
		Log:          rt.Log,
	})
	handler := money.NewHandler(svc, cfg.AllowedOrigin)

	if err := rt.Serve(ctx, handler.Router(), svc.Routes()); err != nil {
		rt.Log.WithError(err).Fatal("money stopped")
	}
}
