package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/provider"
)

func TestLifecycle(t *testing.T) {
	p := New()
	ctx := context.Background()

	out, err := p.Create(ctx, "network", map[string]any{"cidr": "10.0.0.0/16"})
	require.NoError(t, err)
	handle := out["id"].(string)
	assert.Equal(t, "mem-network-1", handle)
	assert.Equal(t, "10.0.0.0/16", out["cidr"])
	assert.Equal(t, "10.0.0.0/16", p.Live(handle)["cidr"])

	out, err = p.Update(ctx, "network", handle, map[string]any{"cidr": "10.1.0.0/16"})
	require.NoError(t, err)
	assert.Equal(t, handle, out["id"])
	assert.Equal(t, "10.1.0.0/16", p.Live(handle)["cidr"])

	require.NoError(t, p.Destroy(ctx, "network", handle))
	assert.Nil(t, p.Live(handle))
	assert.Zero(t, p.LiveCount())

	calls := p.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "create", calls[0].Op)
	assert.Equal(t, "update", calls[1].Op)
	assert.Equal(t, "destroy", calls[2].Op)
}

func TestUpdateUnknownHandle(t *testing.T) {
	p := New()
	_, err := p.Update(context.Background(), "network", "mem-network-99", nil)
	assert.Error(t, err)
}

func TestFailNextConsumedInOrder(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.FailNext("create", "queue", errors.New("first"), errors.New("second"))

	_, err := p.Create(ctx, "queue", nil)
	assert.EqualError(t, err, "first")
	_, err = p.Create(ctx, "queue", nil)
	assert.EqualError(t, err, "second")
	_, err = p.Create(ctx, "queue", nil)
	assert.NoError(t, err)

	// Failures are scoped to the op and kind they were queued for.
	p.FailNext("destroy", "queue", errors.New("boom"))
	_, err = p.Create(ctx, "queue", nil)
	assert.NoError(t, err)
}

func TestExtraOutputs(t *testing.T) {
	p := New()
	p.ExtraOutputs = map[string]map[string]any{
		"queue": {"arn": "arn:mem:queue"},
	}

	out, err := p.Create(context.Background(), "queue", map[string]any{"name": "jobs"})
	require.NoError(t, err)
	assert.Equal(t, "arn:mem:queue", out["arn"])
	assert.Equal(t, "jobs", out["name"])
}

func TestClassify(t *testing.T) {
	p := New()
	assert.Equal(t, provider.Transient, p.Classify(&TransientError{Msg: "throttled"}))
	assert.Equal(t, provider.Fatal, p.Classify(errors.New("bad input")))
}

func TestSchema(t *testing.T) {
	p := New()
	p.SetSchema("network", provider.Schema{ForcesReplacement: []string{"cidr"}})

	s, err := p.Schema("network")
	require.NoError(t, err)
	assert.Equal(t, []string{"cidr"}, s.ForcesReplacement)

	// Unregistered kinds plan with an empty schema rather than failing.
	s, err = p.Schema("unregistered")
	require.NoError(t, err)
	assert.Empty(t, s.ForcesReplacement)
}
