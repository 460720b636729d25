package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
)

var (
	watchSpace   bool
	watchBatches []string
)

var watchCmd = &cobra.Command{
	Use:   "watch [taskId...]",
	Short: "Stream live task events",
	Long: `Connect to the server push hub and stream live events.

Without arguments only system notifications are shown. Pass one or more
task ids to follow their progress, status changes, and completion. Task
ids may also be the upload id used to create the task.

Examples:
  # Follow one task
  clipforgectl watch 4f9d2c

  # Follow several tasks plus disk space updates
  clipforgectl watch 4f9d2c 7a31e0 --space

  # Follow a batch's pause/resume events
  clipforgectl watch --batch movie-night`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchSpace, "space", false, "Also stream disk space updates")
	watchCmd.Flags().StringSliceVar(&watchBatches, "batch", nil, "Also stream pause/resume events for these batch ids")
}

// hubInvocation is a client-to-server frame on the hub connection.
type hubInvocation struct {
	Method     string `json:"method"`
	BatchID    string `json:"batchId,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// hubFrame covers both invocation replies and event envelopes.
type hubFrame struct {
	Type    string          `json:"type"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	hubURL, err := websocketURL(cmdutil.ServerURL())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, hubURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("hub connection failed (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("hub connection failed: %w", err)
	}
	defer func() { _ = ws.Close() }()

	for _, id := range args {
		if err := ws.WriteJSON(hubInvocation{Method: "JoinTaskGroup", Identifier: id}); err != nil {
			return fmt.Errorf("failed to join task group %s: %w", id, err)
		}
	}
	if watchSpace {
		if err := ws.WriteJSON(hubInvocation{Method: "JoinSpaceMonitoring"}); err != nil {
			return fmt.Errorf("failed to join space monitoring: %w", err)
		}
	}
	for _, id := range watchBatches {
		if err := ws.WriteJSON(hubInvocation{Method: "JoinBatchTaskGroup", BatchID: id}); err != nil {
			return fmt.Errorf("failed to join batch group %s: %w", id, err)
		}
	}

	fmt.Fprintln(os.Stderr, "Watching (Ctrl+C to stop)...")

	// Close the socket when the context is cancelled so ReadMessage
	// returns.
	go func() {
		<-ctx.Done()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("hub read failed: %w", err)
		}
		printHubFrame(data)
	}
}

// printHubFrame renders one hub frame as a timestamped line.
func printHubFrame(data []byte) {
	var frame hubFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), string(data))
		return
	}

	line := frame.Type
	if frame.Error != "" {
		line += "  error=" + frame.Error
	}
	body := frame.Payload
	if body == nil {
		body = frame.Data
	}
	if body != nil {
		line += "  " + compactJSON(body)
	}
	fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), line)
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// websocketURL converts the HTTP server URL to the hub endpoint URL.
func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = "/conversionHub"
	return u.String(), nil
}
