package gossip

import (
	"fmt"
	"slices"
)

// Definitions of the ring protocol messages. Every message is a small struct
// implementing Message; the codec turns them into datagrams and back.

type NodeID uint32

type GroupID uint32

type Kind uint8

const (
	KindUnknown Kind = iota
	KindProbe
	KindJoinRequest
	KindJoinAccepted
	KindJoinRejected
	KindNeighborUpdate
	KindPing
	KindPingResponse
	KindLoopPing
	KindSurvey
	KindMcastCreate
	KindMcastAdd
	KindMcastSend
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindProbe:          "probe",
	KindJoinRequest:    "join_request",
	KindJoinAccepted:   "join_accepted",
	KindJoinRejected:   "join_rejected",
	KindNeighborUpdate: "neighbor_update",
	KindPing:           "ping",
	KindPingResponse:   "ping_response",
	KindLoopPing:       "loop_ping",
	KindSurvey:         "survey",
	KindMcastCreate:    "mcast_create",
	KindMcastAdd:       "mcast_add",
	KindMcastSend:      "mcast_send",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

type Message interface {
	Kind() Kind
}

// Flooded is implemented by messages that travel successor to successor
// until they come back to the node that started them.
type Flooded interface {
	Message
	Origin() NodeID
}

// Probe asks the root whether it is alive. The root echoes it back unchanged.
type Probe struct {
	Nonce uint64
}

type JoinRequest struct {
	Proposed NodeID
}

type JoinAccepted struct {
	Proposed    NodeID
	Predecessor NodeID
	Successor   NodeID
}

type JoinRejected struct {
	Proposed NodeID
}

type NeighborUpdate struct {
	Predecessor NodeID
	Successor   NodeID
}

type Ping struct {
	From NodeID
}

type PingResponse struct {
	From NodeID
}

type LoopPing struct {
	From    NodeID
	Payload string
}

// Survey accumulates the identifiers of the nodes it visited, in visiting
// order. The first entry is the node that started it.
type Survey struct {
	Visited []NodeID
}

type McastCreate struct {
	From  NodeID
	Group GroupID
}

// McastAdd is sent point to point to the node being added to Group.
type McastAdd struct {
	Group GroupID
}

type McastSend struct {
	From    NodeID
	Group   GroupID
	Payload string
}

func (Probe) Kind() Kind          { return KindProbe }
func (JoinRequest) Kind() Kind    { return KindJoinRequest }
func (JoinAccepted) Kind() Kind   { return KindJoinAccepted }
func (JoinRejected) Kind() Kind   { return KindJoinRejected }
func (NeighborUpdate) Kind() Kind { return KindNeighborUpdate }
func (Ping) Kind() Kind           { return KindPing }
func (PingResponse) Kind() Kind   { return KindPingResponse }
func (LoopPing) Kind() Kind       { return KindLoopPing }
func (Survey) Kind() Kind         { return KindSurvey }
func (McastCreate) Kind() Kind    { return KindMcastCreate }
func (McastAdd) Kind() Kind       { return KindMcastAdd }
func (McastSend) Kind() Kind      { return KindMcastSend }

func (m LoopPing) Origin() NodeID    { return m.From }
func (m McastCreate) Origin() NodeID { return m.From }
func (m McastSend) Origin() NodeID   { return m.From }

func (m Survey) Origin() NodeID {
	if len(m.Visited) == 0 {
		return 0
	}
	return m.Visited[0]
}

// Contains reports whether id already recorded itself in the survey.
func (m Survey) Contains(id NodeID) bool {
	return slices.Contains(m.Visited, id)
}

// Extend returns a copy of the survey with id appended.
func (m Survey) Extend(id NodeID) Survey {
	visited := make([]NodeID, 0, len(m.Visited)+1)
	visited = append(visited, m.Visited...)
	return Survey{Visited: append(visited, id)}
}
