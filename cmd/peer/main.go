// Command peer runs a sub-server process of spec.md §4.6: it dials the
// broker, registers or logs in, and exchanges data/file traffic through the
// plugin boundary. Grounded on the teacher's client.go entrypoint, adapted
// to cobra per SPEC_FULL.md §4.10.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"hubcore/application"
	"hubcore/internal/config"
	"hubcore/internal/logging"
	"hubcore/internal/peerclient"
)

func main() {
	var (
		configDir      string
		brokerURL      string
		bootstrapKey   string
		pasteBootstrap bool
	)

	root := &cobra.Command{
		Use:   "peer",
		Short: "Run a message bus sub-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewStdLogger()

			resolver := config.NewDefaultResolver(configDir, "config.json")
			cfgMgr := config.NewManager(resolver, false)
			cfg, err := cfgMgr.Configuration()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			if !cfg.Registered() && bootstrapKey == "" && pasteBootstrap {
				pasted, err := clipboard.ReadAll()
				if err != nil {
					return fmt.Errorf("read bootstrap key from clipboard: %w", err)
				}
				bootstrapKey = pasted
			}
			if !cfg.Registered() && bootstrapKey == "" {
				return fmt.Errorf("no account on file and no bootstrap key supplied (use --bootstrap-key or --paste-bootstrap-key)")
			}

			if brokerURL == "" {
				brokerURL = fmt.Sprintf("ws://%s:%d/ws", cfg.IP, cfg.Port)
			}

			p := peerclient.New(brokerURL, bootstrapKey, cfgMgr, logger, application.NoopPluginEvents{})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Printf("peer: connecting to %s", brokerURL)
			p.Run(ctx)
			return nil
		},
	}

	root.Flags().StringVar(&configDir, "config", "", "configuration directory (default: $XDG_CONFIG_HOME/hubcore)")
	root.Flags().StringVar(&brokerURL, "broker", "", "broker WebSocket URL (default: derived from config.json)")
	root.Flags().StringVar(&bootstrapKey, "bootstrap-key", "", "bootstrap key to register with, if not already registered")
	root.Flags().BoolVar(&pasteBootstrap, "paste-bootstrap-key", false, "read the bootstrap key from the clipboard instead of --bootstrap-key")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
