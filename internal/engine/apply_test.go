package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/model"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/secret"
	"github.com/stackform-io/stackform/internal/state"
	"github.com/stackform-io/stackform/providers/memory"
)

// testRun bundles the pieces an end-to-end engine test needs.
type testRun struct {
	reg       *provider.Registry
	mem       *memory.Provider
	store     *state.FileStore
	statePath string
}

func newTestRun(t *testing.T) *testRun {
	t.Helper()
	reg, mem := newRegistry(t)
	path := filepath.Join(t.TempDir(), "state.json")
	return &testRun{
		reg:       reg,
		mem:       mem,
		store:     state.NewFileStore(path),
		statePath: path,
	}
}

func (r *testRun) executor(t *testing.T, secrets secret.Source) *Executor {
	t.Helper()
	var resolver *secret.Resolver
	if secrets != nil {
		resolver = secret.NewResolver(secrets)
	}
	return NewExecutor(r.reg, r.store, resolver, Options{
		Retry: &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Factor: 2, MaxDelay: 5 * time.Millisecond},
	})
}

func (r *testRun) apply(t *testing.T, m *model.Model) (*state.Snapshot, error) {
	t.Helper()
	prior, err := r.store.Load()
	require.NoError(t, err)
	plan := mustPlan(t, r.reg, m, prior)
	return r.executor(t, nil).Apply(context.Background(), plan, prior)
}

func callOps(calls []memory.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op + ":" + c.Kind
	}
	return out
}

func TestApply_CreatesInDependencyOrder(t *testing.T) {
	run := newTestRun(t)

	snap, err := run.apply(t, networkQueueModel("v1"))
	require.NoError(t, err)

	require.Equal(t, []string{"create:network", "create:queue"}, callOps(run.mem.Calls()))
	assert.Equal(t, 2, run.mem.LiveCount())

	// The queue saw the network's real handle, not a placeholder.
	queueCall := run.mem.Calls()[1]
	networkRec := snap.Get(model.ResourceID{Kind: "network", Name: "n"})
	require.NotNil(t, networkRec)
	assert.Equal(t, networkRec.Handle, queueCall.Attrs["subnetId"])

	// Committed records carry resolved attributes and provider outputs.
	queueRec := snap.Get(model.ResourceID{Kind: "queue", Name: "q"})
	require.NotNil(t, queueRec)
	assert.Equal(t, networkRec.Handle, queueRec.Attributes["subnetId"])
	assert.Equal(t, queueRec.Handle, queueRec.Outputs["id"])
	assert.Equal(t, []model.ResourceID{{Kind: "network", Name: "n"}}, queueRec.Dependencies)
}

func TestApply_SecondRunTouchesNothing(t *testing.T) {
	run := newTestRun(t)

	_, err := run.apply(t, networkQueueModel("v1"))
	require.NoError(t, err)
	callsAfterFirst := len(run.mem.Calls())

	prior, err := run.store.Load()
	require.NoError(t, err)
	plan := mustPlan(t, run.reg, networkQueueModel("v1"), prior)
	assert.False(t, plan.Changes())

	_, err = run.executor(t, nil).Apply(context.Background(), plan, prior)
	require.NoError(t, err)
	assert.Len(t, run.mem.Calls(), callsAfterFirst)
}

func TestApply_UpdateOnlyChangedResource(t *testing.T) {
	run := newTestRun(t)

	_, err := run.apply(t, networkQueueModel("v1"))
	require.NoError(t, err)

	snap, err := run.apply(t, networkQueueModel("v2"))
	require.NoError(t, err)

	ops := callOps(run.mem.Calls())
	require.Equal(t, []string{"create:network", "create:queue", "update:queue"}, ops)

	queueRec := snap.Get(model.ResourceID{Kind: "queue", Name: "q"})
	require.NotNil(t, queueRec)
	assert.Equal(t, "v2", queueRec.Attributes["image"])
}

func TestApply_ReplacementSequencing(t *testing.T) {
	run := newTestRun(t)

	first, err := run.apply(t, networkQueueModel("v1"))
	require.NoError(t, err)
	oldHandle := first.Get(model.ResourceID{Kind: "network", Name: "n"}).Handle

	m := networkQueueModel("v1")
	m.Resources[0].Attributes["cidrBlock"] = model.Literal("10.1.0.0/16")

	snap, err := run.apply(t, m)
	require.NoError(t, err)

	ops := callOps(run.mem.Calls())[2:] // skip the initial creates
	require.Equal(t, []string{"destroy:network", "create:network", "update:queue"}, ops)

	// The destroy hit the old instance; the queue was rewired to the new one.
	calls := run.mem.Calls()[2:]
	assert.Equal(t, oldHandle, calls[0].ID)

	newHandle := snap.Get(model.ResourceID{Kind: "network", Name: "n"}).Handle
	assert.NotEqual(t, oldHandle, newHandle)
	assert.Equal(t, newHandle, calls[2].Attrs["subnetId"])
}

func TestApply_DestroyAll(t *testing.T) {
	run := newTestRun(t)

	_, err := run.apply(t, networkQueueModel("v1"))
	require.NoError(t, err)

	snap, err := run.apply(t, model.Empty())
	require.NoError(t, err)

	ops := callOps(run.mem.Calls())[2:]
	require.Equal(t, []string{"destroy:queue", "destroy:network"}, ops)
	assert.Equal(t, 0, run.mem.LiveCount())
	assert.Empty(t, snap.Resources)

	persisted, err := run.store.Load()
	require.NoError(t, err)
	assert.Empty(t, persisted.Resources)
}

func TestApply_PartialFailureIsResumable(t *testing.T) {
	run := newTestRun(t)
	run.mem.FailNext("create", "queue", errors.New("invalid image"))

	_, err := run.apply(t, networkQueueModel("v1"))

	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)
	require.NotNil(t, partial.Failed)
	assert.Equal(t, model.ResourceID{Kind: "queue", Name: "q"}, partial.Failed.Resource)
	assert.Equal(t, ActionCreate, partial.Failed.Action)
	assert.Equal(t, []model.ResourceID{{Kind: "network", Name: "n"}}, partial.Completed)

	// The committed half survived in the store.
	persisted, err := run.store.Load()
	require.NoError(t, err)
	assert.NotNil(t, persisted.Get(model.ResourceID{Kind: "network", Name: "n"}))
	assert.Nil(t, persisted.Get(model.ResourceID{Kind: "queue", Name: "q"}))

	// Resuming re-plans from the persisted state and only runs the rest.
	snap, err := run.apply(t, networkQueueModel("v1"))
	require.NoError(t, err)
	assert.NotNil(t, snap.Get(model.ResourceID{Kind: "queue", Name: "q"}))

	ops := callOps(run.mem.Calls())
	assert.Equal(t, []string{"create:network", "create:queue", "create:queue"}, ops,
		"the committed network must not be re-executed")
}

func TestApply_SkipsDependentsOfFailedStep(t *testing.T) {
	ids := func(name string) model.ResourceID { return model.ResourceID{Kind: "mid", Name: name} }
	m := &model.Model{Resources: []*model.Resource{
		{ID: model.ResourceID{Kind: "network", Name: "a"}, Provider: "memory"},
		{ID: ids("b"), Provider: "memory", DependsOn: []model.ResourceID{{Kind: "network", Name: "a"}}},
		{ID: model.ResourceID{Kind: "queue", Name: "c"}, Provider: "memory", DependsOn: []model.ResourceID{ids("b")}},
	}}

	run := newTestRun(t)
	run.mem.FailNext("create", "mid", errors.New("boom"))

	_, err := run.apply(t, m)
	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)

	ops := callOps(run.mem.Calls())
	assert.Equal(t, []string{"create:network", "create:mid"}, ops,
		"the dependent of the failed step must not run")
	assert.Equal(t, []model.ResourceID{{Kind: "network", Name: "a"}}, partial.Completed)
}

func TestApply_TransientErrorIsRetried(t *testing.T) {
	run := newTestRun(t)
	run.mem.FailNext("create", "network",
		&memory.TransientError{Msg: "throttled"},
		&memory.TransientError{Msg: "throttled"},
	)

	_, err := run.apply(t, networkQueueModel("v1"))
	require.NoError(t, err)

	creates := 0
	for _, c := range run.mem.Calls() {
		if c.Op == "create" && c.Kind == "network" {
			creates++
		}
	}
	assert.Equal(t, 3, creates, "two throttled attempts plus the success")
}

func TestApply_FatalErrorIsNotRetried(t *testing.T) {
	run := newTestRun(t)
	run.mem.FailNext("create", "network", errors.New("permission denied"))

	_, err := run.apply(t, networkQueueModel("v1"))
	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)

	creates := 0
	for _, c := range run.mem.Calls() {
		if c.Op == "create" {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
}

func TestApply_SecretsNeverPersisted(t *testing.T) {
	run := newTestRun(t)

	m := &model.Model{Resources: []*model.Resource{
		{
			ID:       model.ResourceID{Kind: "network", Name: "db"},
			Provider: "memory",
			Attributes: map[string]model.Value{
				"password": model.Secret("prod/db", "password"),
			},
		},
	}}

	prior, err := run.store.Load()
	require.NoError(t, err)
	plan := mustPlan(t, run.reg, m, prior)

	source := &secret.Static{Docs: map[string]map[string]string{
		"prod/db": {"password": "hunter2"},
	}}
	snap, err := run.executor(t, source).Apply(context.Background(), plan, prior)
	require.NoError(t, err)

	// The provider received the cleartext value.
	assert.Equal(t, "hunter2", run.mem.Calls()[0].Attrs["password"])

	// State holds only the opaque token, in attributes and echoed outputs.
	rec := snap.Get(model.ResourceID{Kind: "network", Name: "db"})
	require.NotNil(t, rec)
	token := "secret://prod/db#password"
	assert.Equal(t, token, rec.Attributes["password"])
	assert.Equal(t, token, rec.Outputs["password"])

	raw, err := os.ReadFile(run.statePath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.Contains(t, string(raw), token)
}

func TestApply_SecretResolutionFailureIsFatal(t *testing.T) {
	run := newTestRun(t)

	m := &model.Model{Resources: []*model.Resource{
		{
			ID:       model.ResourceID{Kind: "network", Name: "db"},
			Provider: "memory",
			Attributes: map[string]model.Value{
				"password": model.Secret("prod/db", "missing"),
			},
		},
	}}

	prior, err := run.store.Load()
	require.NoError(t, err)
	plan := mustPlan(t, run.reg, m, prior)

	source := &secret.Static{Docs: map[string]map[string]string{"prod/db": {}}}
	_, err = run.executor(t, source).Apply(context.Background(), plan, prior)

	var re *secret.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Empty(t, run.mem.Calls(), "no provider call without the credential")
}

func TestApply_CancelledBeforeStart(t *testing.T) {
	run := newTestRun(t)

	prior, err := run.store.Load()
	require.NoError(t, err)
	plan := mustPlan(t, run.reg, networkQueueModel("v1"), prior)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = run.executor(t, nil).Apply(ctx, plan, prior)
	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)
	assert.True(t, partial.Cancelled)
	assert.Empty(t, partial.Completed)
	assert.Empty(t, run.mem.Calls())
}

func TestApply_CancelledWithNothingPendingStillReportsCancellation(t *testing.T) {
	// Even when no step was skipped, an observed cancellation ends the run
	// as a partial failure so callers never mistake it for a clean finish.
	run := newTestRun(t)

	prior, err := run.store.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = run.executor(t, nil).Apply(ctx, &Plan{}, prior)
	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)
	assert.True(t, partial.Cancelled)
	assert.Nil(t, partial.Failed)
	assert.Empty(t, partial.Completed)
}

func TestApply_DestroyIsIdempotent(t *testing.T) {
	run := newTestRun(t)

	// A destroy step for a resource whose record is already gone succeeds
	// without a provider call.
	plan := &Plan{Steps: []*Step{{
		Index: 0, Resource: model.ResourceID{Kind: "network", Name: "n"},
		Provider: "memory", Action: ActionDestroy,
	}}, Summary: Summary{Destroy: 1}}

	prior, err := run.store.Load()
	require.NoError(t, err)
	_, err = run.executor(t, nil).Apply(context.Background(), plan, prior)
	require.NoError(t, err)
	assert.Empty(t, run.mem.Calls())
}
