package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/americaro/quotemail/pkg/api"
	"github.com/americaro/quotemail/pkg/config"
	"github.com/americaro/quotemail/pkg/delivery"
	"github.com/americaro/quotemail/pkg/dkim"
	"github.com/americaro/quotemail/pkg/message"
	"github.com/americaro/quotemail/pkg/outcome"
	"github.com/americaro/quotemail/pkg/relay"
	"github.com/americaro/quotemail/pkg/smtppool"
)

// App holds the wired components of a running relay.
type App struct {
	Config config.Config
	Pool   *smtppool.Pool
	Queue  *delivery.Queue
	Sink   outcome.Sink
	Server *api.Server

	log *zap.SugaredLogger
}

func newRelayDialer(cfg config.Config) *smtppool.SMTPDialer {
	return &smtppool.SMTPDialer{
		Host:     config.RelayHost,
		Port:     config.RelayPort,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
	}
}

func newComposer(cfg config.Config) *message.Composer {
	return &message.Composer{
		From:     cfg.Mail.Username,
		FromName: cfg.Mail.FromName,
		To:       cfg.Mail.Destination,
	}
}

// newWorker builds the session pool and a worker bound to it. DKIM signing is
// enabled when configured.
func newWorker(cfg config.Config, dialer smtppool.Dialer, log *zap.SugaredLogger) (*delivery.Worker, *smtppool.Pool, error) {
	unit, err := cfg.BackoffUnit()
	if err != nil {
		return nil, nil, err
	}
	signer, err := dkim.New(cfg.DKIM)
	if err != nil {
		return nil, nil, fmt.Errorf("load dkim signer: %w", err)
	}

	pool := smtppool.New(dialer, config.RelayHost, log)
	worker := delivery.NewWorker(pool, delivery.DefaultRetryPolicy().WithUnit(unit), log)
	if signer != nil {
		log.Infow("DKIM signing enabled", "selector", signer.Selector(), "domain", signer.Domain())
		worker.WithSigner(signer)
	}
	return worker, pool, nil
}

func newSink(cfg config.Config, zl *zap.Logger) (outcome.Sink, error) {
	sinks := []outcome.Sink{outcome.NewLogSink(zl)}
	if len(cfg.Outcome.Kafka.Brokers) > 0 {
		kafkaSink, err := outcome.NewKafkaSink(outcome.KafkaSinkConfig{
			Brokers: cfg.Outcome.Kafka.Brokers,
			Topic:   cfg.Outcome.Kafka.Topic,
			Async:   cfg.Outcome.Kafka.Async,
		}, zl)
		if err != nil {
			return nil, fmt.Errorf("create kafka outcome sink: %w", err)
		}
		sinks = append(sinks, kafkaSink)
	}
	return outcome.NewMultiSink(sinks, zl), nil
}

// NewApp wires the relay. The dialer is injected so tests can replace the
// real SMTP relay.
func NewApp(cfg config.Config, dialer smtppool.Dialer, zl *zap.Logger, debug bool) (*App, error) {
	log := zl.Sugar()

	fetchTimeout, err := cfg.FetchTimeout()
	if err != nil {
		return nil, err
	}
	worker, pool, err := newWorker(cfg, dialer, log)
	if err != nil {
		return nil, err
	}
	sink, err := newSink(cfg, zl)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	queue := delivery.NewQueue(worker, sink, cfg.Delivery.Workers, cfg.Delivery.QueueSize, log)
	server := api.NewServer(zl, cfg, debug, queue.Accepting)

	controller := relay.NewController(newComposer(cfg), message.NewFetcher(fetchTimeout), queue, log)
	if err := server.RegisterAll([]api.APIController{controller}); err != nil {
		server.Close()
		_ = sink.Close()
		_ = pool.Close()
		return nil, fmt.Errorf("register relay endpoints: %w", err)
	}

	return &App{
		Config: cfg,
		Pool:   pool,
		Queue:  queue,
		Sink:   sink,
		Server: server,
		log:    log,
	}, nil
}

// Run serves until ctx is done or the listener fails, then shuts down within
// shutdownTimeout: the HTTP server first, then the queue (which closes the pool),
// then the outcome sink.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	a.Queue.Start()

	listenErr := make(chan error, 1)
	go func() { listenErr <- a.Server.Listen() }()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Infow("Shutdown requested", "reason", context.Cause(ctx))
	case runErr = <-listenErr:
		if runErr != nil {
			a.log.Errorw("HTTP server failed", "error", runErr)
		}
	}

	return errors.Join(runErr, a.Shutdown(shutdownTimeout))
}

// Shutdown stops the server, drains the delivery queue and closes the sink.
// The sink is closed only after the last worker has exited; if workers are
// still busy when Shutdown returns, it is closed in the background.
func (a *App) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := a.Queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop delivery queue: %w", err))
	}

	select {
	case <-a.Queue.Drained():
		if err := a.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close outcome sink: %w", err))
		}
	default:
		a.log.Warn("Delivery workers still running, outcome sink will close after they exit")
		go func() {
			<-a.Queue.Drained()
			if err := a.Sink.Close(); err != nil {
				a.log.Warnw("Failed to close outcome sink", "error", err)
			}
		}()
	}
	a.log.Infow("Shutdown complete", "pendingJobs", a.Queue.Length())
	return errors.Join(errs...)
}
