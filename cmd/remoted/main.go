// remoted is a development stand-in for the central licensing service. It
// keeps records in memory, assigns server ids on create and answers the same
// REST surface the real service exposes, which is enough for end-to-end runs
// of a device daemon against a live counterpart.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	gosync "sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/itadriver/fieldsync/internal/logging"
)

type server struct {
	mu      gosync.Mutex
	records map[string]json.RawMessage
}

func main() {
	listen := os.Getenv("REMOTED_LISTEN")
	if listen == "" {
		listen = "127.0.0.1:8096"
	}
	logging.Init(os.Stdout, logging.LevelInfo)

	s := &server{records: make(map[string]json.RawMessage)}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/records", s.create).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/records/{id}", s.update).Methods(http.MethodPut)
	router.HandleFunc("/api/v1/records/{id}", s.delete).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/records/{id}", s.get).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	logging.Info("remoted listening", map[string]interface{}{"addr": listen})
	if err := http.ListenAndServe(listen, router); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (s *server) create(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(payload) {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	id := "srv-" + uuid.New().String()

	s.mu.Lock()
	s.records[id] = payload
	s.mu.Unlock()

	logging.Info("Record created", map[string]interface{}{"id": id})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (s *server) update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(payload) {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, ok := s.records[id]
	if ok {
		s.records[id] = payload
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// delete answers 404 for unknown ids on purpose: the device engine must
// treat that as success, and this stub exercises the path.
func (s *server) delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	payload, ok := s.records[id]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}
