package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nfrund/parley/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s := server.New(cfg)
		if err := s.RegisterRoutes(); err != nil {
			return err
		}
		return s.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
