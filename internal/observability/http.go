package observability

import (
	"encoding/json"
	"log"
	"net/http"
)

// Handler serves the current metrics snapshot as JSON.
func Handler(metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(metrics.Snapshot()); err != nil {
			log.Printf("encode metrics snapshot: %v", err)
		}
	})
}
