/* StatsAPI.go: a small ReST API over the sensor stats table
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package core

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kraken-hpc/chassisd/lib/sensor"
)

// maxNameLen bounds a sensor name set over the API
const maxNameLen = 64

// SensorJSON is one table entry as served by the API
type SensorJSON struct {
	Index int `json:"index"`
	sensor.Entry
}

// StatsAPI serves the stats table over HTTP
type StatsAPI struct {
	addr   string
	table  *sensor.StatsTable
	log    logrus.FieldLogger
	router *mux.Router
	srv    *http.Server
}

func NewStatsAPI(addr string, table *sensor.StatsTable, log logrus.FieldLogger) *StatsAPI {
	s := &StatsAPI{
		addr:  addr,
		table: table,
		log:   log,
	}
	s.setupRouter()
	return s
}

func (s *StatsAPI) setupRouter() {
	s.router = mux.NewRouter()
	s.router.HandleFunc("/sensors", s.readAll).Methods("GET")
	s.router.HandleFunc("/sensors", s.wipe).Methods("DELETE")
	s.router.HandleFunc("/sensors/{index:[0-9]+}", s.readSensor).Methods("GET")
	s.router.HandleFunc("/sensors/{index:[0-9]+}/name", s.setName).Methods("PUT")
}

// Handler is the routed handler with CORS applied
func (s *StatsAPI) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"}),
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"PUT", "GET", "DELETE"}),
	)(s.router)
}

// Serve listens until ctx is done
func (s *StatsAPI) Serve(ctx context.Context) error {
	l, e := net.Listen("tcp", s.addr)
	if e != nil {
		return e
	}
	return s.serve(ctx, l)
}

func (s *StatsAPI) serve(ctx context.Context, l net.Listener) error {
	s.srv = &http.Server{
		Handler:      s.Handler(),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Debug("stats api is shutting down listener")
		s.srv.Shutdown(sctx)
	}()
	s.log.WithField("addr", l.Addr().String()).Info("stats api is listening")
	if e := s.srv.Serve(l); e != nil && e != http.ErrServerClosed {
		s.log.WithError(e).Warning("stats api stopped")
		return e
	}
	s.log.Info("stats api listener stopped")
	return nil
}

/*
 * Route handlers
 */

func writeJSON(w http.ResponseWriter, v interface{}) {
	b, e := json.Marshal(v)
	if e != nil {
		http.Error(w, e.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (s *StatsAPI) readAll(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	entries := s.table.Snapshot()
	rsp := make([]SensorJSON, len(entries))
	for i, e := range entries {
		rsp[i] = SensorJSON{Index: i, Entry: e}
	}
	writeJSON(w, rsp)
}

func (s *StatsAPI) index(req *http.Request) (int, bool) {
	i, e := strconv.Atoi(mux.Vars(req)["index"])
	return i, e == nil && i >= 0
}

func (s *StatsAPI) readSensor(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	i, ok := s.index(req)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	e, ok := s.table.Entry(i)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, SensorJSON{Index: i, Entry: e})
}

func (s *StatsAPI) setName(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	i, ok := s.index(req)
	if !ok || i > 0xffff {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, e := ioutil.ReadAll(http.MaxBytesReader(w, req.Body, maxNameLen+1))
	if e != nil {
		http.Error(w, e.Error(), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(string(body))
	if name == "" || len(name) > maxNameLen {
		http.Error(w, "name must be 1 to 64 characters", http.StatusBadRequest)
		return
	}
	s.table.SetName(i, name)
	s.log.WithFields(logrus.Fields{
		"index": i,
		"name":  name,
	}).Info("sensor renamed")
	en, _ := s.table.Entry(i)
	writeJSON(w, SensorJSON{Index: i, Entry: en})
}

func (s *StatsAPI) wipe(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	s.table.Wipe()
	s.log.Info("sensor stats wiped")
	w.WriteHeader(http.StatusNoContent)
}
