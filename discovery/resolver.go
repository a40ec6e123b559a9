package discovery

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
)

// Resolver maps a node identifier to the address the node listens on.
type Resolver interface {
	Resolve(ctx context.Context, id gossip.NodeID) (string, error)
}

// Static derives addresses from identifiers: node id listens on
// Host:BasePort+id.
type Static struct {
	Host     string
	BasePort int
}

func (s Static) Resolve(_ context.Context, id gossip.NodeID) (string, error) {
	port := s.BasePort + int(id)
	if port <= 0 || port > 65535 {
		return "", errors.Errorf("resolve %d: port %d out of range", id, port)
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port)), nil
}

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(addr, defPort)
}
