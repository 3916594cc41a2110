package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nfrund/parley/internal/auth"
	"github.com/nfrund/parley/internal/events"
)

var (
	listenURL   string
	listenToken string
	listenAs    string
	listenJoin  []string
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to a running server and print every event",
	Long: `Open a websocket connection, optionally join conversations, and print
every event the server sends until interrupted.

Examples:
  parley-cli listen --as alice --join 3f2a...
  parley-cli listen --token eyJhbGciOi... --url ws://chat.example.com/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token := listenToken
		if token == "" {
			if listenAs == "" {
				return fmt.Errorf("either --token or --as is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err = auth.NewSigner([]byte(cfg.GetJWTSecret())).Generate(listenAs, time.Hour)
			if err != nil {
				return err
			}
		}

		u, err := url.Parse(listenURL)
		if err != nil {
			return fmt.Errorf("parsing url: %w", err)
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		conn, res, err := websocket.DefaultDialer.Dial(u.String(), header)
		if err != nil {
			if res != nil {
				return fmt.Errorf("connecting to %s: %w (status %d)", u, err, res.StatusCode)
			}
			return fmt.Errorf("connecting to %s: %w", u, err)
		}
		defer conn.Close()

		for _, id := range listenJoin {
			if err := conn.WriteMessage(websocket.TextMessage, events.MustEncode(events.JoinConversation, id)); err != nil {
				return fmt.Errorf("joining %s: %w", id, err)
			}
		}

		out := cmd.OutOrStdout()
		done := make(chan error, 1)
		go func() {
			for {
				_, p, err := conn.ReadMessage()
				if err != nil {
					done <- err
					return
				}
				fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), p)
			}
		}()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		defer signal.Stop(interrupt)

		select {
		case err := <-done:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		case <-interrupt:
			return conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenURL, "url", "ws://localhost:8080/ws", "websocket endpoint")
	listenCmd.Flags().StringVar(&listenToken, "token", "", "bearer token")
	listenCmd.Flags().StringVar(&listenAs, "as", "", "mint a token for this user id with PARLEY_JWT_SECRET")
	listenCmd.Flags().StringSliceVar(&listenJoin, "join", nil, "conversation ids to join")
	rootCmd.AddCommand(listenCmd)
}
