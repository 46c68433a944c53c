// ABOUTME: Minimal fake node daemon for E2E testing — connects via websocket, answers commands.
// ABOUTME: Usage: crater-nodesim [-addr localhost:8080] [-cred CREDENTIAL]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/craterhq/crater/internal/dispatch"
	"github.com/craterhq/crater/internal/ws"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "control server address")
	cred := flag.String("cred", os.Getenv("CRATER_NODE_CREDENTIAL"), "node credential")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
	flag.Parse()

	if *cred == "" {
		log.Fatal("credential required (-cred or CRATER_NODE_CREDENTIAL)")
	}

	if err := run(*addr, *cred, *heartbeat); err != nil {
		log.Fatal(err)
	}
}

func run(addr, cred string, heartbeat time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	url := fmt.Sprintf("ws://%s/ws/node", addr)
	sock, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + cred}},
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer sock.Close(websocket.StatusNormalClosure, "")

	fmt.Fprintf(os.Stderr, "connected to %s\n", url)

	// Heartbeat loop
	go func() {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ev := ws.Event{Event: "heartbeat", Body: json.RawMessage(`{}`)}
				if err := wsjson.Write(ctx, sock, ev); err != nil {
					return
				}
			}
		}
	}()

	// Command loop
	for {
		var ev ws.Event
		if err := wsjson.Read(ctx, sock, &ev); err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("read error: %w", err)
		}

		log.Printf("received command [%s]: %s", ev.Event, ev.Body)

		reply, ok := answer(ev)
		if !ok {
			continue
		}
		if err := wsjson.Write(ctx, sock, reply); err != nil {
			return fmt.Errorf("write error: %w", err)
		}
	}
}

// answer builds a canned success reply for correlated commands. Console
// commands get a console event instead of a reply.
func answer(ev ws.Event) (ws.Event, bool) {
	var corr ws.CorrelatedBody
	if err := json.Unmarshal(ev.Body, &corr); err != nil {
		return ws.Event{}, false
	}

	switch ev.Event {
	case dispatch.CmdServerCommand:
		var req dispatch.RunCommandRequest
		if err := json.Unmarshal(ev.Body, &req); err != nil {
			return ws.Event{}, false
		}
		body, _ := json.Marshal(map[string]string{
			"serverId": req.ServerID,
			"line":     "simulated: " + req.Command,
		})
		return ws.Event{Event: "server:console", Body: body}, true
	case dispatch.CmdFileRead:
		body, _ := json.Marshal(map[string]string{
			"requestId": corr.RequestID,
			"path":      "simulated.txt",
			"content":   "simulated file contents",
		})
		return ws.Event{Event: ws.ResponseEvent(ev.Event), Body: body}, true
	default:
		if corr.RequestID == "" {
			return ws.Event{}, false
		}
		body, _ := json.Marshal(map[string]string{"requestId": corr.RequestID})
		return ws.Event{Event: ws.ResponseEvent(ev.Event), Body: body}, true
	}
}
