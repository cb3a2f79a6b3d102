package fileserver

import (
	"encoding/json"
	"net/http"
)

// StatsHandler exposes the access statistics collected so far: GET dumps
// them as JSON, DELETE resets the counters.
func (s *FileServer) StatsHandler(rw http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		records, err := s.stats.Snapshot()
		if err != nil {
			http.Error(rw, "Internal Server Error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		rw.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(rw).Encode(records); err != nil {
			http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	case http.MethodDelete:
		if err := s.stats.Reset(); err != nil {
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	default:
		http.Error(rw, "Only GET and DELETE requests are supported", http.StatusMethodNotAllowed)
	}
}
