package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"remindly/internal/app"
	"remindly/internal/auth"
	"remindly/internal/config"
	"remindly/internal/delayqueue"
	"remindly/internal/delivery"
	"remindly/internal/events"
	httpx "remindly/internal/http"
	"remindly/internal/http/handler"
	"remindly/internal/jobs"
	"remindly/internal/logger"
	"remindly/internal/metrics"
	"remindly/internal/notify"
	"remindly/internal/reconcile"
	"remindly/internal/reminder"
	"remindly/internal/ws"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	core, err := app.NewCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = core.Close() }()

	// delivery
	hub := ws.NewHub(log.Named("ws"))
	mux := notify.NewMux().
		Handle(reminder.ChannelInApp, notify.NewInApp(core.DB, hub))
	if cfg.Notify.SMTP.Host != "" {
		mux.Handle(reminder.ChannelEmail, notify.NewSMTP(notify.SMTPConfig{
			Host:        cfg.Notify.SMTP.Host,
			Port:        cfg.Notify.SMTP.Port,
			Username:    cfg.Notify.SMTP.Username,
			Password:    cfg.Notify.SMTP.Password,
			From:        cfg.Notify.SMTP.From,
			ImplicitTLS: cfg.Notify.SMTP.ImplicitTLS,
			Timeout:     cfg.Notify.Timeout,
		}))
	} else {
		log.Warn("SMTP not configured, email reminders will fail")
	}
	mux.Handle(reminder.ChannelPush, notify.NewPush(notify.PushConfig{
		URL:         cfg.Notify.Push.URL,
		AccessToken: cfg.Notify.Push.AccessToken,
		Timeout:     cfg.Notify.Timeout,
	}))

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		publisher = k
	}
	defer func() { _ = publisher.Close() }()

	directory := auth.NewDirectory(core.DB)
	dispatcher := delivery.NewDispatcher(core.Store, directory, mux, core.Entitlements, publisher, delivery.Config{
		EarlyTolerance: cfg.Dispatch.EarlyTolerance,
		Lease:          cfg.Dispatch.Lease,
		MaxRetries:     cfg.Dispatch.MaxRetries,
		SendTimeout:    cfg.Notify.Timeout,
	}, log.Named("delivery"))

	// http
	jwtSvc := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	inbox := notify.NewInbox(core.DB)

	var billing *handler.BillingHandler
	if cfg.Auth.BillingSecret != "" {
		billing = &handler.BillingHandler{Plans: core.Plans, Secret: cfg.Auth.BillingSecret, Logger: log.Named("billing")}
		if core.EntitlementCache != nil {
			billing.Cache = core.EntitlementCache
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Config: cfg,
		Logger: log.Named("http"),
		JWT:    jwtSvc,
		Reminders: &handler.ReminderHandler{
			Svc:       core.Reminders,
			Estimator: core.Estimator,
		},
		Me: &handler.MeHandler{
			Users:     directory,
			Reminders: core.Reminders,
			Inbox:     inbox,
			Plans:     core.Plans,
			Logger:    log.Named("me"),
		},
		Notifications: &handler.NotificationHandler{Inbox: inbox},
		Webhook: &handler.WebhookHandler{
			Verifier:    delayqueue.NewVerifier(cfg.DelayQueue.Issuer, cfg.DelayQueue.SigningKey, cfg.DelayQueue.NextSigningKey),
			Dispatcher:  dispatcher,
			CallbackURL: cfg.DelayQueue.CallbackURL,
			Timeout:     cfg.Dispatch.Lease,
			Logger:      log.Named("webhook"),
		},
		Billing: billing,
		Hub:     hub,
	})

	// workers
	go hub.Heartbeat(ctx, 30*time.Second)

	if core.Queue != nil {
		signer := delayqueue.NewSigner(cfg.DelayQueue.SigningKey, cfg.DelayQueue.Issuer)
		invoker := jobs.NewHTTPInvoker(signer, cfg.Jobs.CallbackTimeout)
		host, _ := os.Hostname()
		for i := 0; i < max(cfg.Jobs.Workers, 1); i++ {
			w := jobs.NewWorker(fmt.Sprintf("%s-%d", host, i+1), core.Queue, invoker, log.Named("jobs"))
			w.Interval = cfg.Jobs.PollInterval
			go w.Run(ctx)
		}
	}

	var purger reconcile.JobPurger
	if core.Queue != nil {
		purger = core.Queue
	}
	sweeper := reconcile.NewSweeper(core.Store, core.Reminders, purger, reconcile.Config{
		Interval:           cfg.Reconcile.Interval,
		Batch:              cfg.Reconcile.Batch,
		StallAfter:         cfg.Reconcile.StallAfter,
		DismissedRetention: cfg.Reconcile.DismissedRetention,
		JobRetention:       cfg.Reconcile.JobRetention,
	}, log.Named("reconcile"))
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}
