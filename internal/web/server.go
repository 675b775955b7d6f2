// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web serves the live sample stream over websocket and a small JSON
// API to list sensors, switch them on or off and recalibrate them.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
	"github.com/sirupsen/logrus"
)

// commandTimeout bounds how long a request waits for the acquisition loop;
// a recalibration alone takes about three seconds.
const commandTimeout = 10 * time.Second

// Controller is the part of the acquisition service the API drives.
type Controller interface {
	Sensors() []sensors.Status
	SetEnabled(ctx context.Context, name string, enabled bool) error
	Recalibrate(ctx context.Context, name string) error
}

type apiError struct {
	Error string `json:"error"`
}

// NewHandler routes /ws to the hub and /api/sensors to ctrl.
func NewHandler(ctrl Controller, hub *Hub, log logrus.FieldLogger) http.Handler {
	log = log.WithField("component", "web")
	mux := http.NewServeMux()
	mux.Handle("GET /ws", hub)

	mux.HandleFunc("GET /api/sensors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Sensors(), log)
	})

	mux.HandleFunc("POST /api/sensors/{name}/{action}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()

		var err error
		switch action := r.PathValue("action"); action {
		case "enable":
			err = ctrl.SetEnabled(ctx, name, true)
		case "disable":
			err = ctrl.SetEnabled(ctx, name, false)
		case "recalibrate":
			err = ctrl.Recalibrate(ctx, name)
		default:
			writeJSON(w, http.StatusBadRequest, apiError{"unknown action " + action}, log)
			return
		}

		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, sensors.ErrUnknownSensor):
			writeJSON(w, http.StatusNotFound, apiError{err.Error()}, log)
		case errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusGatewayTimeout, apiError{err.Error()}, log)
		default:
			log.WithField("device", name).Errorf("%s: %v", r.PathValue("action"), err)
			writeJSON(w, http.StatusInternalServerError, apiError{err.Error()}, log)
		}
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, log logrus.FieldLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("json encode error: %v", err)
	}
}

// Server is the HTTP listener around NewHandler.
type Server struct {
	srv *http.Server
	hub *Hub
	log logrus.FieldLogger
}

// NewServer prepares a server on listen; Start runs it.
func NewServer(listen string, ctrl Controller, hub *Hub, log logrus.FieldLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              listen,
			Handler:           NewHandler(ctrl, hub, log),
			ReadHeaderTimeout: 5 * time.Second,
		},
		hub: hub,
		log: log.WithField("component", "web"),
	}
}

// Start listens in the background. Listener errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.log.Infof("web server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("web server: %v", err)
		}
	}()
}

// Shutdown drops the websocket clients and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}
