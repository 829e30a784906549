package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var (
		eventType string
		count     int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow notifications as they are emitted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := streamURL(opts.Server, eventType)
			if err != nil {
				return err
			}
			header := http.Header{}
			if opts.Token != "" {
				header.Set("Authorization", "Bearer "+opts.Token)
			}

			ctx := cmd.Context()
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
			if err != nil {
				return fmt.Errorf("connect %s: %w", endpoint, err)
			}
			defer conn.Close()

			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			for seen := 0; count <= 0 || seen < count; seen++ {
				_, data, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					return fmt.Errorf("read notification: %w", err)
				}
				if opts.Format == "json" {
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), describe(gjson.ParseBytes(data)))
			}
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "only this notification type")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many notifications (0 follows forever)")
	return cmd
}

// streamURL derives the websocket endpoint from the API base URL.
func streamURL(server, eventType string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/events/stream"
	if eventType != "" {
		u.RawQuery = url.Values{"type": []string{eventType}}.Encode()
	}
	return u.String(), nil
}
