package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cashflow/platform/internal/app/accounts"
	"github.com/cashflow/platform/internal/platform/bootstrap"
	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.LoadConfig(accounts.ServiceName)
	rt, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("accounts startup failed")
	}
	defer rt.Close()

	svc := accounts.NewService(accounts.Deps{
		Users:  bootstrap.Backend[accounts.User](rt, "accounts_users"),
		Emails: bootstrap.Backend[accounts.EmailClaim](rt, "accounts_emails"),
		Bus:    rt.Bus(),
		Tokens: rt.Tokens(),
		Policy: cfg.Redelivery,
		Log:    rt.Log,
	})
	handler := accounts.NewHandler(svc, cfg.AllowedOrigin)

	if err := rt.Serve(ctx, handler.Router(), svc.Routes()); err != nil {
		rt.Log.WithError(err).Fatal("accounts stopped")
	}
}
