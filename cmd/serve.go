package cmd

import (
	"fmt"
	"log/slog"

	"github.com/BioHazard786/duet/internal/config"
	"github.com/BioHazard786/duet/internal/relay"
	"github.com/BioHazard786/duet/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagListen   string
	flagMDNS     bool
	flagInstance string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a signaling relay",
	Long: `Run the websocket relay peers join rooms through. It serves /ws and a
JSON /health endpoint.

Examples:
  duet serve
  duet serve --listen :9000 --mdns`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{Listen: flagListen})
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		srv := relay.NewServer(relay.Options{
			Addr:      cfg.Listen,
			Advertise: flagMDNS,
			Instance:  flagInstance,
			Logger:    slog.Default(),
		})

		fmt.Println(ui.ServerInfo(cfg.Listen, flagMDNS))
		return srv.ListenAndServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default :8080)")
	serveCmd.Flags().BoolVar(&flagMDNS, "mdns", false, "Advertise the relay on the local network")
	serveCmd.Flags().StringVar(&flagInstance, "name", "", "mDNS instance name (default duet-relay)")
}
