package node

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

// writeJSON encodes v with status. Encoding errors are left to the client
// to notice; headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sortMembers(ms []topology.Member) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}
