// Command broker runs the central hub process of spec.md §4.5: it accepts
// WebSocket connections from peers, authenticates them, and routes traffic
// between them. Grounded on the teacher's server.go entrypoint (flags,
// logger construction, signal-driven shutdown) adapted to cobra, matching
// SPEC_FULL.md §4.10's CLI surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"hubcore/application"
	"hubcore/internal/broker"
	"hubcore/internal/config"
	"hubcore/internal/crypto"
	"hubcore/internal/logging"
)

func main() {
	var (
		configDir string
		host      string
		port      int
		copyKey   bool
	)

	root := &cobra.Command{
		Use:   "broker",
		Short: "Run the message bus broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewStdLogger()

			resolver := config.NewDefaultResolver(configDir, "config.json")
			cfgMgr := config.NewManager(resolver, true)
			cfg, err := cfgMgr.Configuration()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if host != "" {
				cfg.IP = host
			}
			if port != 0 {
				cfg.Port = port
			}

			accounts, err := config.NewAccountStore(config.NewDefaultResolver(configDir, "account.json"))
			if err != nil {
				return fmt.Errorf("load account store: %w", err)
			}

			ring, err := crypto.NewBootstrapKeyRing()
			if err != nil {
				return fmt.Errorf("start bootstrap key ring: %w", err)
			}
			defer ring.Close()

			if copyKey {
				if err := clipboard.WriteAll(ring.Current()); err != nil {
					logger.Printf("broker: could not copy bootstrap key to clipboard: %v", err)
				} else {
					logger.Printf("broker: bootstrap key copied to clipboard")
				}
			}

			b := broker.New(accounts, ring, logger, application.NoopPluginEvents{})
			b.Run()
			defer b.Close()

			addr := fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)
			srv := &http.Server{Addr: addr, Handler: b.Router()}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Printf("broker: listening on %s", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
			}
			return nil
		},
	}

	root.Flags().StringVar(&configDir, "config", "", "configuration directory (default: $XDG_CONFIG_HOME/hubcore)")
	root.Flags().StringVar(&host, "host", "", "override the listen address from config.json")
	root.Flags().IntVar(&port, "port", 0, "override the listen port from config.json")
	root.Flags().BoolVar(&copyKey, "copy-bootstrap-key", false, "copy the current bootstrap key to the clipboard on startup")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
