package command

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beadwal/internal/transition"
)

func record(op transition.Operation, id string, p transition.Payload) transition.Record {
	if p == nil {
		p = transition.Payload{}
	}
	return transition.Record{
		ID:        "rec-" + id,
		Timestamp: "2026-01-01T00:00:00.000000000Z",
		Operation: op,
		EntityID:  id,
		Payload:   p,
		Checksum:  transition.MustChecksum(p),
	}
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder("br")
	require.NoError(t, err)
	return b
}

func TestBuild_Golden(t *testing.T) {
	b := newTestBuilder(t)

	cases := []struct {
		name string
		rec  transition.Record
	}{
		{"create", record(transition.OpCreate, "bd-1", transition.Payload{
			"title": "Fix login bug", "type": "bug", "priority": 1, "description": "Users can't log in",
		})},
		{"create_defaults", record(transition.OpCreate, "bd-2", nil)},
		{"create_out_of_range", record(transition.OpCreate, "bd-2b", transition.Payload{
			"title": "x", "type": "story", "priority": 42,
		})},
		{"update", record(transition.OpUpdate, "bd-3", transition.Payload{
			"status": "in_progress", "priority": 3, "assignee": "alice",
			"acceptance_criteria": "Done when green", "unknown": "ignored",
		})},
		{"close", record(transition.OpClose, "bd-4", transition.Payload{"reason": "duplicate of bd-1"})},
		{"reopen", record(transition.OpReopen, "bd-5", nil)},
		{"label_add", record(transition.OpLabel, "bd-6", transition.Payload{
			"labels": []any{"backend", "ui/web", "../etc", "bad label"}, "label": "p1",
		})},
		{"label_remove", record(transition.OpLabel, "bd-7", transition.Payload{"action": "remove", "label": "backend"})},
		{"comment", record(transition.OpComment, "bd-8", transition.Payload{"body": "Looks good; ship it"})},
		{"comment_injection", record(transition.OpComment, "bd-9", transition.Payload{"text": "value'; rm -rf / #"})},
		{"dep_add", record(transition.OpDep, "bd-10", transition.Payload{"target": "bd-1", "type": "blocks"})},
		{"dep_remove", record(transition.OpDep, "bd-11", transition.Payload{"action": "remove", "depends_on": "bd-2"})},
		{"create_dash_title", record(transition.OpCreate, "bd-12", transition.Payload{"title": "--id=bd-99"})},
		{"comment_dash_body", record(transition.OpComment, "bd-13", transition.Payload{"body": "--help"})},
	}

	var buf bytes.Buffer
	for _, tc := range cases {
		cmd, err := b.Build(tc.rec)
		require.NoError(t, err, tc.name)
		fmt.Fprintf(&buf, "%s: %s\n", tc.name, cmd.String())
	}
	fmt.Fprintf(&buf, "sync: %s\n", b.SyncCommand().String())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "commands", buf.Bytes())
}

func TestBuild_ArgvKeepsValuesWhole(t *testing.T) {
	b := newTestBuilder(t)
	cmd, err := b.Build(record(transition.OpComment, "bd-1", transition.Payload{"body": "a b; c"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"br", "comments", "add", "bd-1", "--", "a b; c"}, cmd.Argv())
}

func TestBuild_FreeTextAfterEndOfFlags(t *testing.T) {
	b := newTestBuilder(t)

	cmd, err := b.Build(record(transition.OpCreate, "bd-1", transition.Payload{
		"title": "-x", "description": "--priority 0",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"br", "create", "--id", "bd-1", "--type", "task", "--priority", "2",
		"--description", "--priority 0", "--", "-x",
	}, cmd.Argv())

	cmd, err = b.Build(record(transition.OpComment, "bd-1", transition.Payload{"body": "--id=bd-2"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"br", "comments", "add", "bd-1", "--", "--id=bd-2"}, cmd.Argv())
}

func TestBuild_SanitizesFreeText(t *testing.T) {
	b := newTestBuilder(t)
	cmd, err := b.Build(record(transition.OpCreate, "bd-1", transition.Payload{
		"title": "ok\x00\x1b[31mred",
	}))
	require.NoError(t, err)
	assert.Equal(t, "ok[31mred", cmd.Args[len(cmd.Args)-1])
}

func TestBuild_Skips(t *testing.T) {
	b := newTestBuilder(t)

	cases := map[string]transition.Record{
		"empty update":         record(transition.OpUpdate, "bd-1", transition.Payload{"unknown": "x"}),
		"bad status only":      record(transition.OpUpdate, "bd-1", transition.Payload{"status": "In Progress!"}),
		"bad priority only":    record(transition.OpUpdate, "bd-1", transition.Payload{"priority": 11}),
		"no valid labels":      record(transition.OpLabel, "bd-1", transition.Payload{"labels": []any{"a b", "..x"}}),
		"missing labels":       record(transition.OpLabel, "bd-1", nil),
		"empty comment":        record(transition.OpComment, "bd-1", transition.Payload{"body": "  "}),
		"dep without target":   record(transition.OpDep, "bd-1", nil),
		"dep traversal target": record(transition.OpDep, "bd-1", transition.Payload{"target": "../bd-2"}),
		"dep option target":    record(transition.OpDep, "bd-1", transition.Payload{"target": "--force"}),
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build(rec)
			require.Error(t, err)
			assert.True(t, IsSkip(err))
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	b := newTestBuilder(t)

	_, err := b.Build(record("explode", "bd-1", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOperation)
	assert.False(t, IsSkip(err))

	for _, id := range []string{"bd-1; rm -rf /", "--help", "-bd-1"} {
		_, err = b.Build(record(transition.OpReopen, id, nil))
		require.Error(t, err, id)
		assert.True(t, transition.IsValidationError(err), id)
	}
}

func TestBuild_UpdateSortedFlags(t *testing.T) {
	b := newTestBuilder(t)
	cmd, err := b.Build(record(transition.OpUpdate, "bd-1", transition.Payload{
		"title": "T", "design": "D", "notes": "N", "external_ref": "gh-1", "description": "X",
	}))
	require.NoError(t, err)
	assert.Equal(t,
		"br update bd-1 --description X --design D --external-ref gh-1 --notes N --title T",
		cmd.String())
}

func TestNewBuilder(t *testing.T) {
	b, err := NewBuilder("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTool, b.Tool())

	_, err = NewBuilder("br; rm -rf /")
	assert.ErrorIs(t, err, ErrInvalidTool)

	b, err = NewBuilder("/usr/local/bin/bd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(b.SyncCommand().String(), "/usr/local/bin/bd "))
}
