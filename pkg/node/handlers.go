package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
)

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the node's ring position and known groups.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		Status
		PID             int                     `json:"pid"`
		Now             time.Time               `json:"now"`
		Uptime          string                  `json:"uptime"`
		NeighborUpdates uint64                  `json:"neighbor_updates"`
		Groups          map[gossip.GroupID]bool `json:"groups"`
	}
	writeJSON(w, resp{
		Status:          n.Status(),
		PID:             os.Getpid(),
		Now:             time.Now(),
		Uptime:          time.Since(n.started).Round(time.Second).String(),
		NeighborUpdates: n.neighbors.Updates(),
		Groups:          n.Groups(),
	})
}

// MembersHandler lists the ring as the root's directory sees it.
func (n *Node) MembersHandler(w http.ResponseWriter, req *http.Request) {
	members, ok := n.Members()
	if !ok {
		http.Error(w, "not the root node", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"members": members})
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
