package gossip

import (
	"github.com/pkg/errors"
	"go.dedis.ch/protobuf"
)

// MaxDatagramSize bounds a single encoded message. Surveys grow by one
// identifier per hop, which stays far below this for rings of a few
// hundred nodes.
const MaxDatagramSize = 64 << 10

var ErrUnroutable = errors.New("gossip: unroutable message")

// frame is the on-the-wire layout shared by every message kind. Fields that a
// kind does not use are left at their zero value.
type frame struct {
	Kind        uint32
	Nonce       uint64
	From        uint32
	Proposed    uint32
	Predecessor uint32
	Successor   uint32
	Group       uint32
	Payload     string
	Visited     []uint32
}

// Encode serializes msg into a datagram.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.Wrap(ErrUnroutable, "encode nil message")
	}
	f := frame{Kind: uint32(msg.Kind())}
	switch m := msg.(type) {
	case Probe:
		f.Nonce = m.Nonce
	case JoinRequest:
		f.Proposed = uint32(m.Proposed)
	case JoinAccepted:
		f.Proposed = uint32(m.Proposed)
		f.Predecessor = uint32(m.Predecessor)
		f.Successor = uint32(m.Successor)
	case JoinRejected:
		f.Proposed = uint32(m.Proposed)
	case NeighborUpdate:
		f.Predecessor = uint32(m.Predecessor)
		f.Successor = uint32(m.Successor)
	case Ping:
		f.From = uint32(m.From)
	case PingResponse:
		f.From = uint32(m.From)
	case LoopPing:
		f.From = uint32(m.From)
		f.Payload = m.Payload
	case Survey:
		f.Visited = make([]uint32, len(m.Visited))
		for i, id := range m.Visited {
			f.Visited[i] = uint32(id)
		}
	case McastCreate:
		f.From = uint32(m.From)
		f.Group = uint32(m.Group)
	case McastAdd:
		f.Group = uint32(m.Group)
	case McastSend:
		f.From = uint32(m.From)
		f.Group = uint32(m.Group)
		f.Payload = m.Payload
	default:
		return nil, errors.Wrapf(ErrUnroutable, "encode %T", msg)
	}
	buf, err := protobuf.Encode(&f)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", msg.Kind())
	}
	if len(buf) > MaxDatagramSize {
		return nil, errors.Errorf("encode %s: %d bytes exceeds datagram limit", msg.Kind(), len(buf))
	}
	return buf, nil
}

// Decode parses a datagram. Anything that is not a well-formed message of a
// known kind yields an error wrapping ErrUnroutable.
func Decode(buf []byte) (Message, error) {
	if len(buf) == 0 {
		return nil, errors.Wrap(ErrUnroutable, "empty datagram")
	}
	var f frame
	if err := protobuf.Decode(buf, &f); err != nil {
		return nil, errors.Wrapf(ErrUnroutable, "decode: %v", err)
	}
	switch Kind(f.Kind) {
	case KindProbe:
		return Probe{Nonce: f.Nonce}, nil
	case KindJoinRequest:
		return JoinRequest{Proposed: NodeID(f.Proposed)}, nil
	case KindJoinAccepted:
		return JoinAccepted{
			Proposed:    NodeID(f.Proposed),
			Predecessor: NodeID(f.Predecessor),
			Successor:   NodeID(f.Successor),
		}, nil
	case KindJoinRejected:
		return JoinRejected{Proposed: NodeID(f.Proposed)}, nil
	case KindNeighborUpdate:
		return NeighborUpdate{Predecessor: NodeID(f.Predecessor), Successor: NodeID(f.Successor)}, nil
	case KindPing:
		return Ping{From: NodeID(f.From)}, nil
	case KindPingResponse:
		return PingResponse{From: NodeID(f.From)}, nil
	case KindLoopPing:
		return LoopPing{From: NodeID(f.From), Payload: f.Payload}, nil
	case KindSurvey:
		if len(f.Visited) == 0 {
			return nil, errors.Wrap(ErrUnroutable, "survey without origin")
		}
		visited := make([]NodeID, len(f.Visited))
		for i, id := range f.Visited {
			visited[i] = NodeID(id)
		}
		return Survey{Visited: visited}, nil
	case KindMcastCreate:
		return McastCreate{From: NodeID(f.From), Group: GroupID(f.Group)}, nil
	case KindMcastAdd:
		return McastAdd{Group: GroupID(f.Group)}, nil
	case KindMcastSend:
		return McastSend{From: NodeID(f.From), Group: GroupID(f.Group), Payload: f.Payload}, nil
	}
	return nil, errors.Wrapf(ErrUnroutable, "unknown kind %d", f.Kind)
}
