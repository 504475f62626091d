package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/model"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/secret"
	"github.com/stackform-io/stackform/internal/state"
)

const defaultParallelism = 10

// stepStatus is the per-step state machine:
// pending -> resolving -> executing -> committed | failed.
// A transient provider error loops inside executing until retries drain.
type stepStatus int

const (
	statusPending stepStatus = iota
	statusResolving
	statusExecuting
	statusCommitted
	statusFailed
	statusSkipped // prerequisites failed or run cancelled before dispatch
)

// ApplyEvent reports step progress to the caller.
type ApplyEvent struct {
	Resource model.ResourceID
	Action   Action
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// ApplyCallback receives progress events if set.
type ApplyCallback func(event ApplyEvent)

// Options tunes a run.
type Options struct {
	// Parallelism bounds the number of provider calls in flight; zero means
	// the default of 10.
	Parallelism int
	// StepTimeout bounds each provider call; zero means DefaultTimeout.
	StepTimeout time.Duration
	Retry       *RetryPolicy
	Callback    ApplyCallback
}

// Executor walks a plan, invoking providers and committing results to the
// store one resource at a time. Steps whose prerequisites are committed run
// concurrently up to the parallelism bound.
type Executor struct {
	registry *provider.Registry
	store    state.Store
	secrets  *secret.Resolver
	opts     Options
}

func NewExecutor(registry *provider.Registry, store state.Store, secrets *secret.Resolver, opts Options) *Executor {
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultTimeout
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Executor{registry: registry, store: store, secrets: secrets, opts: opts}
}

// Apply executes the plan against prior state. On success it returns the
// updated snapshot. On a fatal step error or cancellation it returns the
// snapshot as committed so far together with a *PartialFailure; everything
// committed stays committed and a re-plan resumes the rest.
func (e *Executor) Apply(ctx context.Context, plan *Plan, prior *state.Snapshot) (*state.Snapshot, error) {
	snap, err := prior.Clone()
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		cond      = sync.NewCond(&mu)
		status    = make([]stepStatus, len(plan.Steps))
		firstFail *StepError
		cancelled bool
	)

	emit := func(ev ApplyEvent) {
		if e.opts.Callback != nil {
			e.opts.Callback(ev)
		}
	}

	// Cancellation is observed between steps only: in-flight provider calls
	// run to completion so provider-side resources are never left in an
	// undefined state.
	if ctx.Err() != nil {
		cancelled = true
	}
	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			cancelled = true
			mu.Unlock()
			cond.Broadcast()
		case <-runDone:
		}
	}()

	sem := make(chan struct{}, e.opts.Parallelism)
	var wg sync.WaitGroup

	for _, step := range plan.Steps {
		wg.Add(1)
		go func(s *Step) {
			defer wg.Done()

			// Wait until every prerequisite step is committed.
			mu.Lock()
			for {
				if firstFail != nil || cancelled {
					status[s.Index] = statusSkipped
					mu.Unlock()
					cond.Broadcast()
					return
				}
				ready := true
				blocked := false
				for _, dep := range s.WaitFor {
					switch status[dep] {
					case statusCommitted:
					case statusFailed, statusSkipped:
						blocked = true
					default:
						ready = false
					}
				}
				if blocked {
					status[s.Index] = statusSkipped
					mu.Unlock()
					cond.Broadcast()
					return
				}
				if ready {
					break
				}
				cond.Wait()
			}
			if s.Action == ActionNoOp {
				status[s.Index] = statusCommitted
				mu.Unlock()
				cond.Broadcast()
				return
			}
			status[s.Index] = statusResolving
			mu.Unlock()

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Resource: s.Resource, Action: s.Action, Status: "started"})

			err := e.runStep(ctx, s, snap, &mu, &status[s.Index])

			mu.Lock()
			if err != nil {
				status[s.Index] = statusFailed
				if firstFail == nil {
					firstFail = &StepError{Resource: s.Resource, Action: s.Action, Err: err}
				}
				mu.Unlock()
				cond.Broadcast()
				emit(ApplyEvent{Resource: s.Resource, Action: s.Action, Status: "failed", Duration: time.Since(start), Error: err})
				return
			}
			status[s.Index] = statusCommitted
			mu.Unlock()
			cond.Broadcast()
			emit(ApplyEvent{Resource: s.Resource, Action: s.Action, Status: "completed", Duration: time.Since(start)})
		}(step)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstFail != nil || cancelled {
		pf := &PartialFailure{Failed: firstFail, Cancelled: cancelled}
		for _, s := range plan.Steps {
			if status[s.Index] == statusCommitted && s.Action != ActionNoOp {
				pf.Completed = append(pf.Completed, s.Resource)
			}
		}
		return snap, pf
	}
	return snap, nil
}

// runStep resolves, executes, and commits a single non-noop step. The
// snapshot mutex guards both the resolution reads and the commit writes so a
// dependent always sees its dependency's committed outputs.
func (e *Executor) runStep(ctx context.Context, s *Step, snap *state.Snapshot, mu *sync.Mutex, st *stepStatus) error {
	prov, err := e.registry.Get(s.Provider)
	if err != nil {
		return err
	}

	// Provider calls are never aborted mid-flight; the step timeout is the
	// only bound once the call has started.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.StepTimeout)
	defer cancel()

	shouldRetry := func(err error) bool { return prov.Classify(err) == provider.Transient }

	switch s.Action {
	case ActionDestroy:
		mu.Lock()
		rec := snap.Get(s.Resource)
		mu.Unlock()
		if rec == nil {
			return nil // already gone; destroy is idempotent
		}
		mu.Lock()
		*st = statusExecuting
		mu.Unlock()
		logging.Debug("destroying resource", "resource", s.Resource.String(), "handle", rec.Handle)
		if err := RetryWithBackoff(ctx, e.opts.Retry, func() error {
			return prov.Destroy(callCtx, s.Resource.Kind, rec.Handle)
		}, shouldRetry); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		delete(snap.Resources, s.Resource.String())
		return e.store.Remove(s.Resource)

	case ActionCreate, ActionUpdate:
		// Secrets are fetched before taking the snapshot lock; each distinct
		// path hits the backend once per run via the resolver's cache.
		secretVals, err := e.prefetchSecrets(ctx, s.desired)
		if err != nil {
			return err
		}

		// All dependencies are committed by plan ordering, so every
		// reference resolves against the live snapshot.
		mu.Lock()
		applied, persisted, resErr := e.resolveAttrs(s.desired, snap, secretVals)
		var handle string
		if s.Action == ActionUpdate {
			if rec := snap.Get(s.Resource); rec != nil {
				handle = rec.Handle
			}
		}
		*st = statusExecuting
		mu.Unlock()
		if resErr != nil {
			return resErr
		}

		var outputs map[string]any
		op := func() error {
			var callErr error
			if s.Action == ActionCreate {
				outputs, callErr = prov.Create(callCtx, s.Resource.Kind, applied)
			} else {
				outputs, callErr = prov.Update(callCtx, s.Resource.Kind, handle, applied)
			}
			return callErr
		}
		logging.Debug("applying resource", "resource", s.Resource.String(), "action", string(s.Action))
		if err := RetryWithBackoff(ctx, e.opts.Retry, op, shouldRetry); err != nil {
			return err
		}

		// Providers may echo attributes back as outputs; secret values are
		// masked to their tokens before anything reaches the store.
		outputs = maskSecretOutputs(outputs, secretVals)

		newHandle := handle
		if id, ok := outputs["id"]; ok {
			newHandle = fmt.Sprintf("%v", id)
		}
		rec := &state.Record{
			ID:           s.Resource,
			Provider:     s.Provider,
			Attributes:   persisted,
			Outputs:      outputs,
			Handle:       newHandle,
			Dependencies: s.dependencies,
		}

		mu.Lock()
		defer mu.Unlock()
		if err := e.store.Commit(rec); err != nil {
			return fmt.Errorf("state commit: %w", err)
		}
		snap.Resources[s.Resource.String()] = rec
		return nil
	}

	return fmt.Errorf("unexpected plan action %q", s.Action)
}

// prefetchSecrets resolves every secret token in the resource's attributes.
// Values live only in the returned map; they are never logged or persisted.
func (e *Executor) prefetchSecrets(ctx context.Context, res *model.Resource) (map[string]string, error) {
	var vals map[string]string
	for _, v := range res.Attributes {
		for _, ref := range v.SecretRefs() {
			if vals == nil {
				vals = make(map[string]string)
			}
			if _, done := vals[ref.Token()]; done {
				continue
			}
			if e.secrets == nil {
				return nil, &secret.ResolutionError{Path: ref.Path, Key: ref.Key, Err: fmt.Errorf("no secret source configured")}
			}
			val, err := e.secrets.Lookup(ctx, ref.Path, ref.Key)
			if err != nil {
				return nil, err
			}
			vals[ref.Token()] = val
		}
	}
	return vals, nil
}

// maskSecretOutputs replaces any output value equal to a resolved secret
// with that secret's opaque token.
func maskSecretOutputs(outputs map[string]any, secretVals map[string]string) map[string]any {
	if len(outputs) == 0 || len(secretVals) == 0 {
		return outputs
	}
	tokens := make(map[string]string, len(secretVals))
	for token, val := range secretVals {
		tokens[val] = token
	}
	var mask func(v any) any
	mask = func(v any) any {
		switch t := v.(type) {
		case string:
			if token, ok := tokens[t]; ok {
				return token
			}
			return t
		case []any:
			out := make([]any, len(t))
			for i, e := range t {
				out[i] = mask(e)
			}
			return out
		case map[string]any:
			out := make(map[string]any, len(t))
			for k, e := range t {
				out[k] = mask(e)
			}
			return out
		default:
			return v
		}
	}
	return mask(outputs).(map[string]any)
}

// resolveAttrs resolves a resource's attribute map for a provider call.
// Caller holds the snapshot lock; the walk is pure memory.
func (e *Executor) resolveAttrs(res *model.Resource, snap *state.Snapshot, secretVals map[string]string) (applied, persisted map[string]any, err error) {
	applied = make(map[string]any, len(res.Attributes))
	persisted = make(map[string]any, len(res.Attributes))
	for name, v := range res.Attributes {
		a, p, err := resolveForApply(v, snap, secretVals)
		if err != nil {
			return nil, nil, err
		}
		applied[name] = a
		persisted[name] = p
	}
	return applied, persisted, nil
}
