// maskwatch - records masks streamed by a running segcam server
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/segcam/internal/httpc"
	"github.com/teslashibe/segcam/internal/log"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "segcam server URL")
	out := flag.String("out", "masks", "Directory to write PNG masks to")
	width := flag.Int("width", 0, "Display width to request (0 keeps the server's)")
	height := flag.Int("height", 0, "Display height to request (0 keeps the server's)")
	limit := flag.Int("n", 0, "Stop after n masks (0 = until interrupted)")
	once := flag.Bool("once", false, "Fetch the current mask over HTTP and exit")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log.Init(*logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		stdlog.Fatalf("❌ %v", err)
	}

	client := httpc.New(*server)
	st, err := client.Status(ctx)
	if err != nil {
		stdlog.Fatalf("❌ Server not reachable: %v", err)
	}
	log.Info("connected", "server", *server,
		"display", fmt.Sprintf("%dx%d", st.Display.Width, st.Display.Height),
		"model_output", st.Model.Output, "threshold", st.Threshold)

	if *width > 0 && *height > 0 {
		if err := client.SetDisplay(ctx, *width, *height); err != nil {
			stdlog.Fatalf("❌ Set display: %v", err)
		}
		log.Info("display size set", "width", *width, "height", *height)
	}

	if *once {
		data, version, err := client.MaskPNG(ctx)
		if err != nil {
			stdlog.Fatalf("❌ Fetch mask: %v", err)
		}
		if err := save(*out, version, data); err != nil {
			stdlog.Fatalf("❌ %v", err)
		}
		return
	}

	if err := watch(ctx, *server, *out, *limit); err != nil {
		stdlog.Fatalf("❌ %v", err)
	}
}

// watch writes every mask pushed on /ws/mask until ctx ends or limit masks
// have been written.
func watch(ctx context.Context, server, out string, limit int) error {
	wsURL, err := maskURL(server)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	return record(ctx, conn, out, limit)
}

type messageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// record saves binary messages as numbered PNGs until the connection
// closes, ctx ends or limit masks have been written. Other messages are
// ignored and do not count toward limit.
func record(ctx context.Context, conn messageReader, out string, limit int) error {
	for n := 1; limit == 0 || n <= limit; {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if err := save(out, uint64(n), data); err != nil {
			return err
		}
		n++
	}
	return nil
}

func maskURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/ws/mask"
	return u.String(), nil
}

func save(dir string, seq uint64, data []byte) error {
	name := filepath.Join(dir, fmt.Sprintf("mask-%06d.png", seq))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return err
	}
	log.Debug("mask written", "file", name, "bytes", len(data))
	return nil
}
