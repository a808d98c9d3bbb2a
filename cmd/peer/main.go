package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/api"
	"github.com/AaronLay10/SentientLock/internal/config"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/logging"
	"github.com/AaronLay10/SentientLock/internal/mqtt"
	"github.com/AaronLay10/SentientLock/internal/orchestrator"
	"github.com/AaronLay10/SentientLock/internal/remote"
	"github.com/AaronLay10/SentientLock/internal/sequence"
)

type options struct {
	configPath string
	role       string
	id         string
	hostURL    string
	useMQTT    bool
}

func parseFlags() options {
	var o options
	pflag.StringVarP(&o.configPath, "config", "c", "session.yaml", "path to session.yaml")
	pflag.StringVarP(&o.role, "role", "r", "", "player role: security_guard or technician")
	pflag.StringVar(&o.id, "id", "", "peer id (random if empty)")
	pflag.StringVar(&o.hostURL, "host", "", "orchestrator URL (overrides network.host_url)")
	pflag.BoolVar(&o.useMQTT, "mqtt", true, "submit calls over MQTT and announce presence")
	pflag.Parse()
	return o
}

func main() {
	if err := run(parseFlags(), os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "peer: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, input io.Reader) (err error) {
	cfg, err := config.LoadSessionConfig(o.configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", o.configPath, err)
	}
	role, err := playerRole(o.role)
	if err != nil {
		return err
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	logger, err := logging.New(cfg.Log, "peer")
	if err != nil {
		return err
	}
	defer logging.Sync(logger)
	events.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostURL := cfg.HostURL()
	if o.hostURL != "" {
		hostURL = o.hostURL
	}

	opts := []remote.Option{remote.WithLogger(logger)}
	tlsCfg, err := api.TLSFromEnv().ClientConfig()
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		opts = append(opts, remote.WithTLS(tlsCfg))
	}
	var publisher *mqtt.Publisher
	var mq *mqtt.Client
	if o.useMQTT {
		mq = mqtt.NewClient(cfg.MQTTURL(), "sentientlock-peer-"+o.id, logger)
		if err := mq.Connect(); err != nil {
			logger.Warnw("mqtt unavailable, submitting over HTTP", "broker", cfg.MQTTURL(), "error", err)
			mq = nil
		} else {
			defer mq.Disconnect()
			publisher = mqtt.NewPublisher(mq, cfg.Session.ID)
			opts = append(opts, remote.WithPublisher(publisher))
		}
	}

	log, err := remote.New(hostURL, opts...)
	if err != nil {
		return err
	}
	peer, err := orchestrator.NewPeer(cfg, o.id, role, log, logger)
	if err != nil {
		return err
	}
	attachObservers(peer, logger)

	runErr := make(chan error, 1)
	go func() { runErr <- peer.Run(ctx) }()

	if publisher != nil {
		interval := time.Duration(cfg.HeartbeatSec()) * time.Second
		go publisher.Heartbeat(ctx, interval, func() mqtt.PeerInfo {
			return mqtt.PeerInfo{
				ID:           peer.ID(),
				Role:         peer.Role(),
				HeartbeatSec: cfg.HeartbeatSec(),
				Applied:      peer.Runtime().Applied(),
			}
		}, func(err error) {
			logger.Debugw("presence publish failed", "error", err)
		})
	}

	select {
	case <-peer.CaughtUp():
		logger.Infow("caught up", "applied", peer.Runtime().Applied())
	case err := <-runErr:
		if err = ignoreCanceled(err); err != nil {
			return fmt.Errorf("log stream: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}

	inputErr := make(chan error, 1)
	go func() { inputErr <- readCommands(ctx, peer, input, logger) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-runErr:
		if err = ignoreCanceled(err); err != nil {
			return fmt.Errorf("log stream: %w", err)
		}
		return nil
	case err := <-inputErr:
		stop()
		return multierr.Append(err, ignoreCanceled(<-runErr))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// attachObservers logs every outcome of every lock on this replica.
func attachObservers(peer *orchestrator.Peer, logger *zap.SugaredLogger) {
	rt := peer.Runtime()
	for _, id := range rt.PuzzleIDs() {
		m := rt.Lock(id)
		id := id
		rt.On(id, lock.OutcomeEntryAccepted, func() {
			logger.Infow("entry", "puzzle_id", id, "entered", sequence.Format(m.Current()))
		})
		rt.On(id, lock.OutcomeSuccess, func() {
			logger.Infow("unlocked", "puzzle_id", id)
		})
		rt.On(id, lock.OutcomeFailure, func() {
			logger.Infow("wrong sequence", "puzzle_id", id)
		})
		rt.On(id, lock.OutcomeClosed, func() {
			logger.Infow("relocked", "puzzle_id", id)
		})
	}
}

// readCommands applies "<verb> <puzzle>" lines until input ends. Verbs are
// left, right, up, down, check and close.
func readCommands(ctx context.Context, peer *orchestrator.Peer, input io.Reader, logger *zap.SugaredLogger) error {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			logger.Warnw("usage: <left|right|up|down|check|close> <puzzle>", "line", scanner.Text())
			continue
		}
		if err := dispatch(ctx, peer, fields[0], fields[1]); err != nil {
			logger.Warnw("command failed", "command", fields[0], "puzzle_id", fields[1], "error", err)
		}
	}
	return scanner.Err()
}

func dispatch(ctx context.Context, peer *orchestrator.Peer, verb, puzzleID string) error {
	switch strings.ToLower(verb) {
	case "check":
		return peer.Check(ctx, puzzleID)
	case "close":
		return peer.Close(ctx, puzzleID)
	}
	d, err := sequence.ParseDirection(verb)
	if err != nil {
		return err
	}
	return peer.Trigger(ctx, puzzleID, d)
}

// playerRole parses the --role flag, accepting any letter case.
func playerRole(s string) (lock.Role, error) {
	role, err := lock.ParseRole(s)
	if err != nil || !role.IsPlayer() {
		return "", fmt.Errorf("--role must be a player role, got %q", s)
	}
	return role, nil
}
