// Command fanoutd is the thin, interface-level "HTTP API and WebSocket
// event fan-out surface" spec.md scopes out of the core runner: /run
// forwards a request to the runner and, once the whole run has returned,
// publishes one event per HookResult and then one with the run id and final
// response to every /events WebSocket subscriber. Nothing is published
// while the run is still executing.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	proxywasm "github.com/fastedge-run/proxy-wasm-runtime"
	"github.com/fastedge-run/proxy-wasm-runtime/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub fans every published event out to every currently connected
// subscriber, dropping events for a slow subscriber rather than blocking
// the publisher.
type hub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]chan any
}

func newHub() *hub {
	return &hub{subs: map[*websocket.Conn]chan any{}}
}

func (h *hub) subscribe(conn *websocket.Conn) chan any {
	ch := make(chan any, 32)
	h.mu.Lock()
	h.subs[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.subs, conn)
	h.mu.Unlock()
}

func (h *hub) publish(event any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.subs {
		select {
		case ch <- event:
		default:
			// Subscriber too slow; drop this event rather than stall the run.
			_ = conn
		}
	}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.subscribe(conn)
	defer h.unsubscribe(conn)

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func main() {
	var addr, runnerAddr string
	flag.StringVar(&addr, "addr", ":8090", "Listen address for the fan-out surface")
	flag.StringVar(&runnerAddr, "runner", "http://127.0.0.1:8080", "Base URL of the proxy-wasm runner's /run endpoint")
	flag.Parse()

	log := logging.New(logging.Config{Level: "info", Output: "stderr"})
	logging.SetGlobal(log)
	defer logging.Sync()

	h := newHub()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		h.serveWS(w, r, log)
	})
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := http.Post(runnerAddr+"/run", "application/json", bytes.NewReader(raw))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		var result proxywasm.FullFlowResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		for name, hr := range result.HookResults {
			h.publish(map[string]any{"hook": name, "result": hr})
		}
		h.publish(map[string]any{"run": result.RunID, "final": result.FinalResponse})

		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	})

	log.Info("fan-out surface listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
