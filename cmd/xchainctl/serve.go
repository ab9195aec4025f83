package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/xchainctl"
	tlsutil "github.com/loykin/xchainctl/internal/tls"
)

const shutdownTimeout = 5 * time.Second

func createServeCommand(s *session, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fleet over an HTTP API",
		Long: `Serve the local fleet over an HTTP API. The [server] section of the
config sets the listen address, base path and TLS.

Examples:
  xchainctl serve
  xchainctl serve --listen=0.0.0.0:8080 --self-signed
  xchainctl server list --api-url=http://127.0.0.1:8080/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, s, *f, nil)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (overrides [server].listen)")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "API base path (overrides [server].base_path)")
	cmd.Flags().BoolVar(&f.SelfSigned, "self-signed", false, "serve TLS with a certificate generated under <home>/tls")
	return cmd
}

// runServe blocks until ctx is done or the listener fails. ready, when set, receives
// the bound address once the server accepts connections.
func runServe(ctx context.Context, s *session, f ServeFlags, ready func(net.Addr)) error {
	if s.remote() {
		return errors.New("serve manages the local fleet; drop --api-url")
	}
	fl, err := s.local(xchainctl.WithReaping())
	if err != nil {
		return err
	}

	sc := s.cfg.Server
	if f.Listen != "" {
		sc.Listen = f.Listen
	}
	if f.BasePath != "" {
		sc.BasePath = f.BasePath
	}
	if f.SelfSigned {
		t, err := tlsutil.SelfSigned(fl.Home())
		if err != nil {
			return err
		}
		sc.TLS = t
	}

	srv, err := xchainctl.NewHTTPServer(fl, sc, nil)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", sc.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sc.Listen, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			errCh <- srv.ServeTLS(ln, "", "")
			return
		}
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("API listening", "addr", ln.Addr().String(), "base_path", sc.BasePath, "tls", srv.TLSConfig != nil, "registry", fl.RegistryPath())
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	s.logger.Info("shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
