package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"toe-nts/pkg/toe"
)

// statusServer exposes the Prometheus registry and table snapshots.
type statusServer struct {
	srv *http.Server
	log zerolog.Logger
}

type sessionView struct {
	ID         uint16 `json:"id"`
	Key        string `json:"key"`
	Privileged bool   `json:"privileged"`
	Closing    bool   `json:"closing"`
}

func newStatusServer(addr string, h *host, log zerolog.Logger) *statusServer {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		var (
			views []sessionView
			err   error
		)
		h.withEngine(func(e *toe.TOE) {
			rows, rerr := e.SessionRows()
			if rerr != nil {
				err = rerr
				return
			}
			for _, row := range rows {
				if row.Used {
					views = append(views, sessionView{uint16(row.ID), row.Key.String(), row.Privileged, row.PendingDelete})
				}
			}
		})
		writeJSON(w, views, err)
	}).Methods(http.MethodGet)
	r.HandleFunc("/nal", func(w http.ResponseWriter, _ *http.Request) {
		var (
			views []sessionView
			err   error
		)
		h.withEngine(func(e *toe.TOE) {
			rows, rerr := e.NALRows()
			if rerr != nil {
				err = rerr
				return
			}
			for _, row := range rows {
				if row.Used {
					views = append(views, sessionView{uint16(row.ID), row.Key.String(), row.Privileged, row.PendingDelete})
				}
			}
		})
		writeJSON(w, views, err)
	}).Methods(http.MethodGet)
	r.HandleFunc("/ports", func(w http.ResponseWriter, _ *http.Request) {
		var ports []uint16
		h.withEngine(func(e *toe.TOE) { ports = e.Ports.Listening() })
		writeJSON(w, ports, nil)
	}).Methods(http.MethodGet)

	return &statusServer{
		srv: &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

func writeJSON(w http.ResponseWriter, v any, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *statusServer) start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status server failed")
		}
	}()
}

func (s *statusServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("status server shutdown failed")
	}
}
