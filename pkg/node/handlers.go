package node

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrquorum/pkg/quorum"
	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the process ID, current time, and the
// node's view of its target.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID          int            `json:"pid"`
		Now          time.Time      `json:"now"`
		ID           string         `json:"id"`
		Addr         string         `json:"addr"`
		Target       string         `json:"target,omitempty"`
		TargetAbsent bool           `json:"target_absent"`
		Electorate   int            `json:"electorate"`
		Discovery    string         `json:"discovery_timeout,omitempty"`
		LastVote     *quorum.Result `json:"last_vote,omitempty"`
	}
	out := resp{PID: os.Getpid(), Now: time.Now(), ID: n.id, Addr: n.addr}
	if n.tracker != nil {
		out.Target = n.tracker.Target()
		out.TargetAbsent = n.tracker.IsTargetAbsent()
		out.Electorate = n.tracker.Size()
	}
	if n.engine != nil {
		out.Discovery = n.engine.DiscoveryTimeout().String()
	}
	if last, ok := n.LastVote(); ok {
		out.LastVote = &last
	}
	writeJSON(w, http.StatusOK, out)
}

// MembersHandler lists known members.
func (n *Node) MembersHandler(w http.ResponseWriter, _ *http.Request) {
	members := n.Members()
	if members == nil {
		members = []topology.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// VoteHandler runs a quorum vote on demand. The vote is bounded by the
// engine's discovery window and by the request context.
func (n *Node) VoteHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := n.Vote(req.Context())
	if errors.Is(err, ErrNotBackup) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Routes mounts the node handlers on mux.
func (n *Node) Routes(mux *http.ServeMux, wrap func(op string, h http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(_ string, h http.Handler) http.Handler { return h }
	}
	mux.HandleFunc("/healthz", n.Healthz)
	mux.Handle("/info", wrap("info", http.HandlerFunc(n.Info)))
	mux.Handle("/members", wrap("members", http.HandlerFunc(n.MembersHandler)))
	mux.Handle("/quorum/vote", wrap("vote", http.HandlerFunc(n.VoteHandler)))
}
