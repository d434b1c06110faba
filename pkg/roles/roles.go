// Package roles contains the generation orchestrators: the stateful
// services tying the consolidator, prompt builder and LLM gateway together.
package roles

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"rolemint/internal/utils"
	"rolemint/pkg/dataset"
)

// Default concurrency gates for batch generation. The multi-option prompt is
// larger and slower, so its default is lower.
const (
	DefaultConcurrency        = 5
	DefaultOptionsConcurrency = 3
)

// ErrNoClusterSelection is returned by batch calls given neither explicit
// cluster ids nor the process-all flag.
var ErrNoClusterSelection = errors.New("either provide cluster ids or set process_all")

// ErrNoFeedback is returned by Refine when there is no reviewer feedback to
// fold into the prompt, neither passed nor stored by a prior review.
var ErrNoFeedback = errors.New("no reviewer feedback to refine with")

// Gateway is the generate contract the orchestrators depend on. The llm
// package provides the real implementation; tests provide stubs.
type Gateway interface {
	Generate(ctx context.Context, prompt string, jsonMode bool) (map[string]any, error)
}

// resolveTargets expands a batch request into the concrete id set.
func resolveTargets(data *dataset.Consolidator, clusterIDs []string, processAll bool) ([]string, error) {
	if processAll {
		if err := data.EnsureLoaded(); err != nil {
			return nil, err
		}
		return data.ClusterIDs(), nil
	}
	if len(clusterIDs) == 0 {
		return nil, ErrNoClusterSelection
	}
	return clusterIDs, nil
}

// fanOut runs generate for every id under a weighted semaphore so at most
// limit calls are in flight. Per-id failures are logged and omitted from the
// result; the batch itself never aborts.
func fanOut[T any](ctx context.Context, ids []string, limit int, generate func(context.Context, string) (T, error)) map[string]T {
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]T, len(ids))

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				utils.Log.Errorf("Skipping cluster %s: %v", id, err)
				return
			}
			defer sem.Release(1)

			res, err := generate(ctx, id)
			if err != nil {
				utils.Log.Errorf("Failed to generate for cluster %s: %v", id, err)
				return
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intField(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
