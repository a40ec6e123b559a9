// Package console reads operator commands line by line and runs them against
// a node.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/node"
)

// Commander is the part of *node.Node the console drives.
type Commander interface {
	Status() node.Status
	Ping(ctx context.Context, target gossip.NodeID) error
	PingLoop(ctx context.Context, payload string) error
	Survey(ctx context.Context) error
	MulticastCreate(ctx context.Context, g gossip.GroupID) error
	MulticastAdd(ctx context.Context, g gossip.GroupID, target gossip.NodeID) error
	MulticastSend(ctx context.Context, g gossip.GroupID, payload string) error
}

var ErrUsage = errors.New("invalid arguments")

const help = `commands:
  status                   print this node's id and neighbors
  ping <id>                ping a node directly
  loopping [text]          send text around the ring
  survey                   list the ring starting from this node
  mcast create <group>     announce a group to every node
  mcast add <group> <id>   make a node a member of a group
  mcast send <group> text  send text to the members of a group
  help                     show this message`

// Exec runs one command line. Keywords are case-insensitive. Identifier
// arguments are split shell style; message text is everything after the group
// or keyword, passed on exactly as typed. Output meant for the operator, if
// any, is written to out.
func Exec(ctx context.Context, c Commander, line string, out io.Writer) error {
	keyword, rest := cut(line)
	switch strings.ToLower(keyword) {
	case "":
		return nil
	case "status":
		s := c.Status()
		fmt.Fprintf(out, "ID: %d predecessor: %d successor: %d\n", s.ID, s.Predecessor, s.Successor)
		return nil
	case "ping":
		args, err := split(rest)
		if err != nil {
			return err
		}
		if len(args) != 1 {
			return usage("ping <id>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return c.Ping(ctx, id)
	case "loopping":
		return c.PingLoop(ctx, rest)
	case "survey":
		return c.Survey(ctx)
	case "mcast":
		return mcast(ctx, c, rest)
	case "help":
		fmt.Fprintln(out, help)
		return nil
	}
	return errors.Errorf("unknown command %q, try help", keyword)
}

func mcast(ctx context.Context, c Commander, line string) error {
	sub, rest := cut(line)
	group, text := cut(rest)
	if group == "" {
		return usage("mcast create|add|send <group> ...")
	}
	g, err := parseGroup(group)
	if err != nil {
		return err
	}
	switch strings.ToLower(sub) {
	case "create":
		if text != "" {
			return usage("mcast create <group>")
		}
		return c.MulticastCreate(ctx, g)
	case "add":
		args, err := split(text)
		if err != nil {
			return err
		}
		if len(args) != 1 {
			return usage("mcast add <group> <id>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return c.MulticastAdd(ctx, g, id)
	case "send":
		return c.MulticastSend(ctx, g, text)
	}
	return usage("mcast create|add|send <group> ...")
}

// cut splits off the first whitespace separated word of s. rest starts at the
// next non-blank character and is otherwise untouched.
func cut(s string) (word, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t")
}

func split(s string) ([]string, error) {
	args, err := shlex.Split(s)
	return args, errors.Wrap(err, "parse arguments")
}

// Run executes lines from in until it is exhausted or ctx is done. Failed
// commands are reported to out and do not stop the loop.
func Run(ctx context.Context, c Commander, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return errors.Wrap(err, "read console")
				default:
					return nil
				}
			}
			if err := Exec(ctx, c, line, out); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func parseID(s string) (gossip.NodeID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "node id %q", s)
	}
	return gossip.NodeID(v), nil
}

func parseGroup(s string) (gossip.GroupID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "group id %q", s)
	}
	return gossip.GroupID(v), nil
}

func usage(s string) error {
	return errors.Wrap(ErrUsage, s)
}
