package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/model"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/secret"
	"github.com/stackform-io/stackform/internal/state"
	awsprovider "github.com/stackform-io/stackform/providers/aws"
	"github.com/stackform-io/stackform/providers/memory"
)

const parallelismEnvVar = "STACKFORM_PARALLELISM"

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// buildRegistry registers the concrete providers and returns the secret
// source used for attribute resolution.
func buildRegistry(ctx context.Context) (*provider.Registry, secret.Source, error) {
	awsp, err := awsprovider.New(ctx, awsRegion)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize aws provider: %w", err)
	}

	registry := provider.NewRegistry()
	registry.Register("aws", awsp)
	registry.Register("memory", memory.New())

	return registry, awsprovider.NewSecretSource(awsp), nil
}

// loadPlan reads the model and prior state and computes a plan against them.
func loadPlan(registry *provider.Registry, m *model.Model, store state.Store) (*engine.Plan, *state.Snapshot, error) {
	g, err := graph.Build(m)
	if err != nil {
		return nil, nil, err
	}

	prior, err := store.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read state: %w", err)
	}

	plan, err := engine.NewPlanner(registry).Plan(m, g, prior)
	if err != nil {
		return nil, nil, err
	}
	return plan, prior, nil
}

func parallelismFromEnv() int {
	if raw := os.Getenv(parallelismEnvVar); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// renderPlan prints the detailed change list for a plan.
func renderPlan(plan *engine.Plan) {
	for _, step := range plan.Steps {
		if step.Action == engine.ActionNoOp {
			continue
		}

		symbol, color, verb := "~", colorYellow, "updated"
		switch step.Action {
		case engine.ActionCreate:
			symbol, color, verb = "+", colorGreen, "created"
		case engine.ActionDestroy:
			symbol, color, verb = "-", colorRed, "destroyed"
			if step.Replacing {
				verb = "replaced"
			}
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, step.Resource, verb, colorReset)
		fmt.Printf("%s  %s resource %q %q {%s\n", color, symbol, step.Resource.Kind, step.Resource.Name, colorReset)
		renderDiff(step.Diff)
		fmt.Printf("%s    }%s\n", color, colorReset)
	}
}

func renderDiff(diff map[string]engine.AttrDiff) {
	for _, key := range sortedKeys(diff) {
		d := diff[key]
		after := formatValue(d.After)
		if d.Unknown {
			after = "(known after apply)"
		}
		switch {
		case d.Before == nil && d.After != nil || d.Unknown && d.Before == nil:
			fmt.Printf("%s      + %s = %s%s\n", colorGreen, key, after, colorReset)
		case d.After == nil && !d.Unknown:
			fmt.Printf("%s      - %s = %s%s\n", colorRed, key, formatValue(d.Before), colorReset)
		default:
			suffix := ""
			if d.ForcesReplacement {
				suffix = " # forces replacement"
			}
			fmt.Printf("%s      ~ %s = %s -> %s%s%s\n", colorYellow, key, formatValue(d.Before), after, suffix, colorReset)
		}
	}
}

func sortedKeys(diff map[string]engine.AttrDiff) []string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderSummary prints the plan summary counts.
func renderSummary(plan *engine.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  Destroy: %d\n", plan.Summary.Destroy)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// progressCallback prints per-step progress during apply.
func progressCallback(ev engine.ApplyEvent) {
	if ev.Action == engine.ActionNoOp {
		return
	}
	switch ev.Status {
	case "completed":
		fmt.Printf("%s: %s complete (%s)\n", ev.Resource, ev.Action, ev.Duration.Round(time.Millisecond))
	case "failed":
		fmt.Printf("%s%s: %s failed: %v%s\n", colorRed, ev.Resource, ev.Action, ev.Error, colorReset)
	}
}
