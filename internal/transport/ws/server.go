// Package ws serves the read-only status surface: health, a plain-text
// metrics dump, a JSON status snapshot, and a websocket feed that pushes
// the snapshot periodically. Everything here consumes engine accessors
// and never mutates the pipeline.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suegt/dynregionperf/internal/metrics"
	"github.com/suegt/dynregionperf/internal/sim/engine"
)

const (
	pushInterval  = 2 * time.Second
	writeDeadline = 5 * time.Second
	readDeadline  = 60 * time.Second
)

type Server struct {
	engine *engine.Engine
	coll   *metrics.Collector
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(e *engine.Engine, coll *metrics.Collector, logger *log.Logger) *Server {
	return &Server{
		engine: e,
		coll:   coll,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Routes registers the HTTP surface on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// handleMetrics writes a flat key-value dump of the current sample and
// the one-minute aggregates.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "mspt %.2f\n", st.Mspt)
	fmt.Fprintf(w, "tps %.2f\n", st.Tps)
	fmt.Fprintf(w, "agents %d\n", st.Agents)
	fmt.Fprintf(w, "hot_regions %d\n", len(st.Regions))
	fmt.Fprintf(w, "loaded_chunks %d\n", st.LoadedChunks)
	fmt.Fprintf(w, "scan_cycles %d\n", st.Cycles)
	fmt.Fprintf(w, "view_multiplier %.2f\n", st.Multiplier)
	if s.coll != nil {
		agg := s.coll.WindowStats(60)
		fmt.Fprintf(w, "avg_tps_1m %.2f\n", agg.AvgTps)
		fmt.Fprintf(w, "min_tps_1m %.2f\n", agg.MinTps)
		fmt.Fprintf(w, "avg_mspt_1m %.2f\n", agg.AvgMspt)
		fmt.Fprintf(w, "max_mspt_1m %.2f\n", agg.MaxMspt)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.engine.Status()); err != nil {
		s.log.Printf("ws: status encode: %v", err)
	}
}

// handleWS upgrades and pushes the status snapshot every two seconds
// until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(pushInterval)
		defer ticker.Stop()

		if err := s.writeStatus(conn); err != nil {
			cancel()
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.writeStatus(conn); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Reader loop: clients send nothing meaningful, but reading is how
	// we notice the close.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			return
		}
	}
}

func (s *Server) writeStatus(conn *websocket.Conn) error {
	b, err := json.Marshal(s.engine.Status())
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.TextMessage, b)
}
