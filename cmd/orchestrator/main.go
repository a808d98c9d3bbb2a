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

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/api"
	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/config"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/logging"
	"github.com/AaronLay10/SentientLock/internal/mqtt"
	"github.com/AaronLay10/SentientLock/internal/orchestrator"
	"github.com/AaronLay10/SentientLock/internal/storage/postgres"
	"github.com/AaronLay10/SentientLock/internal/version"
)

type options struct {
	configPath  string
	port        int
	usePostgres bool
	pgAttempts  uint64
	useMQTT     bool
	logLevel    string
}

func parseFlags() options {
	var o options
	pflag.StringVarP(&o.configPath, "config", "c", "session.yaml", "path to session.yaml")
	pflag.IntVarP(&o.port, "port", "p", 0, "HTTP port (overrides network.ui_port)")
	pflag.BoolVar(&o.usePostgres, "postgres", true, "persist the call log and events to PostgreSQL (PG* env vars)")
	pflag.Uint64Var(&o.pgAttempts, "postgres-attempts", 5, "connection attempts before running without PostgreSQL")
	pflag.BoolVar(&o.useMQTT, "mqtt", true, "accept calls and presence over MQTT")
	pflag.StringVar(&o.logLevel, "log-level", "", "log level (overrides log.level)")
	pflag.Parse()
	return o
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) (err error) {
	cfg, err := config.LoadSessionConfig(o.configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", o.configPath, err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	logger, err := logging.New(cfg.Log, "orchestrator")
	if err != nil {
		return err
	}
	defer logging.Sync(logger)
	events.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "orchestrator starting", map[string]interface{}{
		"service":    "orchestrator",
		"hostname":   hostname,
		"pid":        os.Getpid(),
		"version":    version.Version,
		"session_id": cfg.Session.ID,
	})

	if err := api.InitAuth(); err != nil {
		return err
	}
	api.InitTLS()

	var store channel.Store
	var pg *postgres.Client
	if o.usePostgres {
		pg, err = postgres.New(ctx, cfg.Session.ID, o.pgAttempts)
		if err != nil {
			logger.Warnw("postgres unavailable, running with an in-memory log", "error", err)
		} else {
			store = pg
			events.SetPersister(pg)
			api.SetPostgresConnected(true)
			defer func() { err = multierr.Append(err, pg.Close()) }()
		}
	}

	host, err := orchestrator.NewHost(cfg, store, logger)
	if err != nil {
		return err
	}
	if store != nil {
		if _, err := host.Restore(ctx); err != nil {
			return fmt.Errorf("restore session: %w", err)
		}
	}
	if err := host.Start(ctx); err != nil {
		return err
	}
	api.SetOrchestratorReady(true)

	server := api.NewServer(host, logger)
	if pg != nil {
		server.SetHistory(pg)
	}

	var mq *mqtt.Client
	if o.useMQTT {
		mq = startMQTT(cfg, host, server, logger)
	}

	alerter, err := api.NewAlerter(cfg.Session.ID, logger)
	if err != nil {
		return err
	}
	go watchLinks(ctx, alerter, mq, pg)

	port := cfg.UIPort()
	if o.port != 0 {
		port = o.port
	}
	serveErr := server.ListenAndServe(ctx, port)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	events.Emit("info", "system.shutdown", "orchestrator stopping", map[string]interface{}{
		"session_id": cfg.Session.ID,
		"head":       host.Log().Len(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if mq != nil {
		mq.Disconnect()
	}
	api.SetOrchestratorReady(false)
	return multierr.Combine(serveErr, host.Shutdown(shutdownCtx))
}

// startMQTT wires the submit and presence topics. A broker that cannot be
// reached is not fatal; peers fall back to POST /calls.
func startMQTT(cfg *config.SessionConfig, host *orchestrator.Host, server *api.Server, logger *zap.SugaredLogger) *mqtt.Client {
	client := mqtt.NewClient(cfg.MQTTURL(), "sentientlock-orchestrator-"+cfg.Session.ID, logger)
	submit := mqtt.NewSubmitSubscriber(client, host, cfg.Session.ID, logger)
	monitor := mqtt.NewMonitor(nil, 2.0)
	server.SetMonitor(monitor)
	monitor.Start(time.Second)

	ok := client.StartWithRetry(map[string]paho.MessageHandler{
		submit.Topic():                     submit.Handler(),
		mqtt.PresenceTopic(cfg.Session.ID): monitor.Handler(),
	})
	api.SetMQTTConnected(ok)
	if !ok {
		logger.Warnw("mqtt unavailable, accepting calls over HTTP only", "broker", cfg.MQTTURL())
	}
	return client
}

// watchLinks refreshes the readiness flags and drives connection alerts.
func watchLinks(ctx context.Context, alerter *api.Alerter, mq *mqtt.Client, pg *postgres.Client) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if mq != nil {
			api.SetMQTTConnected(mq.IsConnected())
		}
		if pg != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			api.SetPostgresConnected(pg.Ping(pingCtx) == nil)
			cancel()
		}
		alerter.Check(ctx)
	}
}
