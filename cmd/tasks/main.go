package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cashflow/platform/internal/app/replicas"
	"github.com/cashflow/platform/internal/app/tasks"
	"github.com/cashflow/platform/internal/platform/bootstrap"
	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.LoadConfig(tasks.ServiceName)
	rt, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("tasks startup failed")
	}
	defer rt.Close()

	svc := tasks.NewService(tasks.Deps{
		Tasks:        bootstrap.Backend[tasks.Task](rt, "tasks_tasks"),
		Users:        bootstrap.Backend[replicas.User](rt, "tasks_users"),
		Transactions: bootstrap.Backend[replicas.Transaction](rt, "tasks_transactions"),
		Bus:          rt.Bus(),
		Tokens:       rt.Tokens(),
		Policy:       cfg.Redelivery,
		Log:          rt.Log,
	})
	handler := tasks.NewHandler(svc, cfg.AllowedOrigin)

	if err := rt.Serve(ctx, handler.Router(), svc.Routes()); err != nil {
		rt.Log.WithError(err).Fatal("tasks stopped")
	}
}
