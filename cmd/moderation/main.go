package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cashflow/platform/internal/app/moderation"
	"github.com/cashflow/platform/internal/app/replicas"
	"github.com/cashflow/platform/internal/platform/bootstrap"
	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.LoadConfig(moderation.ServiceName)
	rt, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("moderation startup failed")
	}
	defer rt.Close()

	svc := moderation.NewService(moderation.Deps{
		Sanctions: bootstrap.Backend[moderation.Sanction](rt, "moderation_sanctions"),
		Approvals: bootstrap.Backend[moderation.Approval](rt, "moderation_approvals"),
		Users:     bootstrap.Backend[replicas.User](rt, "moderation_users"),
		Tasks:     bootstrap.Backend[replicas.Task](rt, "moderation_tasks"),
		Bus:       rt.Bus(),
		Tokens:    rt.Tokens(),
		Policy:    cfg.Redelivery,
		Log:       rt.Log,
	})
	handler := moderation.NewHandler(svc, cfg.AllowedOrigin)

	if err := rt.Serve(ctx, handler.Router(), svc.Routes()); err != nil {
		rt.Log.WithError(err).Fatal("moderation stopped")
	}
}
