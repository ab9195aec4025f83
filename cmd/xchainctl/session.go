package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loykin/xchainctl"
	"github.com/loykin/xchainctl/internal/logger"
	"github.com/loykin/xchainctl/pkg/client"
)

// session holds what a single invocation needs: configuration, the logger and
// either the local fleet or an API client.
type session struct {
	flags *GlobalFlags

	cfg       *xchainctl.Config
	logger    *slog.Logger
	logCloser io.Closer
	fleet     *xchainctl.Fleet
	api       *client.Client
}

func (s *session) open(cmd *cobra.Command) error {
	cfg, err := xchainctl.LoadConfig(s.flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if s.flags.Home != "" {
		cfg.Home = s.flags.Home
	}
	if s.flags.LogLevel != "" {
		cfg.Log.Level = s.flags.LogLevel
	}
	if s.flags.LogFormat != "" {
		cfg.Log.Format = s.flags.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg

	l, closer, err := logger.New(cfg.Logger(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	s.logger, s.logCloser = l, closer

	if err := xchainctl.RegisterMetricsDefault(); err != nil {
		s.logger.Warn("metrics registration failed", "error", err)
	}

	if s.flags.APIUrl != "" {
		api, err := client.New(client.Config{
			BaseURL:  s.flags.APIUrl,
			Timeout:  s.flags.APITimeout,
			Logger:   s.logger,
			Insecure: s.flags.APIInsecure,
		})
		if err != nil {
			return err
		}
		s.api = api
	}
	return nil
}

// remote reports whether commands go through the HTTP API.
func (s *session) remote() bool { return s.api != nil }

// local returns the fleet backed by the local registry, creating it on first use.
func (s *session) local(opts ...xchainctl.Option) (*xchainctl.Fleet, error) {
	if s.fleet != nil {
		return s.fleet, nil
	}
	if s.cfg == nil {
		return nil, errors.New("session not opened")
	}
	f, err := xchainctl.New(s.cfg, append([]xchainctl.Option{xchainctl.WithLogger(s.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	s.fleet = f
	return f, nil
}

// close dumps metrics when a textfile is configured and releases resources.
func (s *session) close() error {
	var errs []error
	if s.cfg != nil && s.cfg.Metrics.Textfile != "" {
		if err := xchainctl.WriteMetricsTextfile(s.cfg.Metrics.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if s.fleet != nil {
		errs = append(errs, s.fleet.Close())
		s.fleet = nil
	}
	if s.logCloser != nil {
		errs = append(errs, s.logCloser.Close())
		s.logCloser = nil
	}
	return errors.Join(errs...)
}
