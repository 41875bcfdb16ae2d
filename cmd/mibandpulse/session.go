package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/Micallam/MiBandPulse/internal/gatt/goble"
	"github.com/Micallam/MiBandPulse/internal/miband"
	"github.com/Micallam/MiBandPulse/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the wait for queued band work when a command ends.
const shutdownTimeout = 5 * time.Second

// radioFactory builds the radio a session talks through. Tests substitute a scripted radio.
var radioFactory = func(cfg *config.Config, logger *logrus.Logger) gatt.Radio {
	return goble.NewRadio(goble.Options{ConnectTimeout: cfg.ConnectTimeout}, logger)
}

// session is an authenticated band session opened for one command.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	support *miband.Support
	out     *Printer

	// ctx ends with the command (interrupt); cancel stops the session workers
	ctx    context.Context
	cancel context.CancelFunc
}

// loadConfig reads --config and applies the address argument and --json on top.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Address = args[0]
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("band address required: pass it as an argument or set address in the config file")
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		cfg.OutputFormat = "json"
	}
	return cfg, nil
}

// openSession connects to the band and waits until it is authenticated.
func openSession(cmd *cobra.Command, args []string) (*session, error) {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	key, err := cfg.AuthKeyBytes()
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := miband.DefaultOptions()
	opts.AuthKey = key
	opts.AutoReconnect = cfg.AutoReconnect
	opts.ConnectAttempts = cfg.ConnectAttempts
	opts.ConnectTimeout = cfg.ConnectTimeout

	band := device.NewBand(cfg.Address, cfg.Name, logger)
	support, err := miband.NewSupport(radioFactory(cfg, logger), band, opts, logger)
	if err != nil {
		return nil, err
	}

	// The workers outlive an interrupt so the band can be reset before exit; Close stops them.
	workers, cancel := context.WithCancel(context.Background())
	if err := support.Start(workers); err != nil {
		cancel()
		return nil, err
	}
	s := &session{
		cfg:     cfg,
		logger:  logger,
		support: support,
		out:     NewPrinter(cmd.OutOrStdout(), cfg.OutputFormat),
		ctx:     cmd.Context(),
		cancel:  cancel,
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", cfg.Address),
		device.StateConnecting.String(), device.StateInitialized.String())
	phase := progress.Callback()
	unsubscribe := band.OnStateChanged(func(snap device.Snapshot) { phase(snap.State.String()) })
	progress.Start()

	err = support.ConnectFirstTime(s.ctx)
	unsubscribe()
	progress.Stop()
	if err != nil {
		s.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"address": cfg.Address,
		"state":   band.State().String(),
	}).Info("Band ready")
	return s, nil
}

// drain waits for queued band work, bounded by shutdownTimeout.
func (s *session) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.support.Flush(ctx); err != nil {
		s.logger.WithError(err).Warn("Queued band work did not finish")
	}
}

// Close disconnects from the band and stops the session workers.
func (s *session) Close() {
	if err := s.support.Dispose(); err != nil {
		s.logger.WithError(err).Debug("Failed to dispose session")
	}
	s.cancel()
}
