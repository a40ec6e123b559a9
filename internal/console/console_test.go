package console

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/node"
)

type recorder struct {
	calls []string
	fail  error
}

func (r *recorder) record(format string, args ...any) error {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return r.fail
}

func (r *recorder) Status() node.Status {
	return node.Status{ID: 4, Predecessor: 2, Successor: 9}
}

func (r *recorder) Ping(_ context.Context, target gossip.NodeID) error {
	return r.record("ping %d", target)
}

func (r *recorder) PingLoop(_ context.Context, payload string) error {
	return r.record("loopping %q", payload)
}

func (r *recorder) Survey(context.Context) error {
	return r.record("survey")
}

func (r *recorder) MulticastCreate(_ context.Context, g gossip.GroupID) error {
	return r.record("create %d", g)
}

func (r *recorder) MulticastAdd(_ context.Context, g gossip.GroupID, target gossip.NodeID) error {
	return r.record("add %d %d", g, target)
}

func (r *recorder) MulticastSend(_ context.Context, g gossip.GroupID, payload string) error {
	return r.record("send %d %q", g, payload)
}

func TestExec(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"ping 7", "ping 7"},
		{"PING 7", "ping 7"},
		{"loopping", `loopping ""`},
		{"loopping hello there", `loopping "hello there"`},
		{"survey", "survey"},
		{"mcast create 3", "create 3"},
		{"Mcast ADD 3 12", "add 3 12"},
		{`mcast send 3 "quoted  text" tail`, `send 3 "\"quoted  text\" tail"`},
		{"mcast send 5 don't forget", `send 5 "don't forget"`},
		{"mcast send 5 meet in #general", `send 5 "meet in #general"`},
		{"mcast   send  5   two   spaces", `send 5 "two   spaces"`},
		{"loopping   two   spaces", `loopping "two   spaces"`},
		{`loopping say "hi"`, `loopping "say \"hi\""`},
		{"loopping it's #1", `loopping "it's #1"`},
		{`ping "7"`, "ping 7"},
		{"mcast add 3 '12'", "add 3 12"},
	}
	for _, c := range cases {
		t.Run(c.line, func(t *testing.T) {
			r := &recorder{}
			require.NoError(t, Exec(context.Background(), r, c.line, &bytes.Buffer{}))
			assert.Equal(t, []string{c.want}, r.calls)
		})
	}
}

func TestExecRejectsBadInput(t *testing.T) {
	for _, line := range []string{
		"ping",
		"ping x",
		"ping 1 2",
		"mcast",
		"mcast create",
		"mcast add 3",
		"mcast delete 3",
		"mcast create -1",
		"mcast create 3 extra",
		"mcast add 3 '12",
		`ping "7`,
		"frobnicate",
	} {
		t.Run(line, func(t *testing.T) {
			r := &recorder{}
			assert.Error(t, Exec(context.Background(), r, line, &bytes.Buffer{}))
			assert.Empty(t, r.calls)
		})
	}
	err := Exec(context.Background(), &recorder{}, "ping", &bytes.Buffer{})
	assert.True(t, errors.Is(err, ErrUsage))
}

func TestExecPrintsStatusAndHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Exec(context.Background(), &recorder{}, "status", &out))
	assert.Equal(t, "ID: 4 predecessor: 2 successor: 9\n", out.String())

	out.Reset()
	require.NoError(t, Exec(context.Background(), &recorder{}, "help", &out))
	assert.Contains(t, out.String(), "mcast send <group> text")

	require.NoError(t, Exec(context.Background(), &recorder{}, "   ", &out))
}

func TestRun(t *testing.T) {
	r := &recorder{}
	in := strings.NewReader("survey\nnonsense\n\nping 3\n")
	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), r, in, &out))
	assert.Equal(t, []string{"survey", "ping 3"}, r.calls)
	assert.Contains(t, out.String(), `error: unknown command "nonsense"`)
}

func TestRunReportsCommandFailures(t *testing.T) {
	r := &recorder{fail: errors.New("no route")}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), r, strings.NewReader("survey\n"), &out))
	assert.Equal(t, "error: no route\n", out.String())
}
