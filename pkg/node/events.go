package node

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/ring"
)

type EventKind uint8

const (
	EventNeighborsChanged EventKind = iota + 1
	EventPing
	EventPingResponse
	EventLoopPing
	EventSurveyComplete
	EventGroupCreated
	EventGroupJoined
	EventDelivered
	EventAdmitted
)

// Event is something the operator of Node should see. Which fields are set
// depends on Kind.
type Event struct {
	Kind      EventKind
	Node      gossip.NodeID
	Peer      gossip.NodeID
	Group     gossip.GroupID
	Payload   string
	Members   []gossip.NodeID
	Neighbors ring.Neighbors
}

type Sink func(Event)

// PrintSink writes one human readable line per event to w.
func PrintSink(w io.Writer) Sink {
	var mu sync.Mutex
	return func(ev Event) {
		line := FormatEvent(ev)
		if line == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
}

func FormatEvent(ev Event) string {
	switch ev.Kind {
	case EventNeighborsChanged:
		return fmt.Sprintf("Status updated. ID: %d predecessor: %d successor: %d",
			ev.Node, ev.Neighbors.Predecessor, ev.Neighbors.Successor)
	case EventPing:
		return fmt.Sprintf("Ping from %d", ev.Peer)
	case EventPingResponse:
		return fmt.Sprintf("Ping response from %d", ev.Peer)
	case EventLoopPing:
		return fmt.Sprintf("Loop ping from %d: %s", ev.Peer, ev.Payload)
	case EventSurveyComplete:
		ids := make([]string, len(ev.Members))
		for i, id := range ev.Members {
			ids[i] = fmt.Sprint(id)
		}
		return "Nodes in ring: " + strings.Join(ids, " ")
	case EventGroupCreated:
		return fmt.Sprintf("Adding group %d", ev.Group)
	case EventGroupJoined:
		return fmt.Sprintf("Joining group %d", ev.Group)
	case EventDelivered:
		return fmt.Sprintf("Message for group %d: %s", ev.Group, ev.Payload)
	case EventAdmitted:
		return fmt.Sprintf("New ID: %d", ev.Peer)
	}
	return ""
}
