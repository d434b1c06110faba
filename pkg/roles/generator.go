package roles

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rolemint/internal/utils"
	"rolemint/pkg/dataset"
	"rolemint/pkg/prompt"
	"rolemint/pkg/rbac"
)

// Generator is the single-role orchestrator. It owns the generation cache:
// at most one generation per cluster unless explicitly forced. The cache is
// guarded at the map level only; two simultaneous forced generations for the
// same cluster can interleave and the last response wins.
type Generator struct {
	data      *dataset.Consolidator
	gateway   Gateway
	outputDir string

	mu    sync.RWMutex
	cache map[string]*rbac.GeneratedRole
}

func NewGenerator(data *dataset.Consolidator, gateway Gateway, outputDir string) *Generator {
	return &Generator{
		data:      data,
		gateway:   gateway,
		outputDir: outputDir,
		cache:     make(map[string]*rbac.GeneratedRole),
	}
}

// Generate synthesizes a role for one cluster. Cached results are returned
// unchanged unless force is set. Failures propagate and never touch the
// cache. A forced regeneration produces a fresh record, so review flags and
// feedback start over.
func (g *Generator) Generate(ctx context.Context, clusterID string, force bool) (*rbac.GeneratedRole, error) {
	if !force {
		g.mu.RLock()
		cached, ok := g.cache[clusterID]
		g.mu.RUnlock()
		if ok {
			utils.Log.Infof("Role already exists for cluster %s", clusterID)
			return cached, nil
		}
	}

	if err := g.data.EnsureLoaded(); err != nil {
		return nil, err
	}
	snap, err := g.data.Snapshot(clusterID)
	if err != nil {
		return nil, err
	}

	utils.Log.Infof("Generating role for cluster %s", clusterID)
	raw, err := g.gateway.Generate(ctx, prompt.Single(snap), true)
	if err != nil {
		return nil, err
	}

	role := &rbac.GeneratedRole{
		ClusterID:    clusterID,
		RoleName:     stringField(raw, "role_name", "Role_"+clusterID),
		Description:  stringField(raw, "description", ""),
		Rationale:    stringField(raw, "rationale", ""),
		RiskLevel:    rbac.ParseRiskLevel(stringField(raw, "risk_level", "MEDIUM")),
		Entitlements: snap.Entitlements,
		UserSummary:  snap.UserSummary,
		GeneratedAt:  time.Now(),
	}

	g.mu.Lock()
	g.cache[clusterID] = role
	g.mu.Unlock()

	utils.Log.Infof("Generated role %q for cluster %s", role.RoleName, clusterID)
	return role, nil
}

// BatchGenerate fans Generate out over the target set under a bounded
// concurrency gate. Per-cluster failures are logged and excluded from the
// result mapping; the caller infers failed ids by set difference.
func (g *Generator) BatchGenerate(ctx context.Context, clusterIDs []string, processAll bool, limit int) (map[string]*rbac.GeneratedRole, error) {
	targets, err := resolveTargets(g.data, clusterIDs, processAll)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := fanOut(ctx, targets, limit, func(ctx context.Context, id string) (*rbac.GeneratedRole, error) {
		return g.Generate(ctx, id, false)
	})
	utils.Log.Infof("Generated %d roles out of %d clusters", len(results), len(targets))
	return results, nil
}

// Refine regenerates the cached role with reviewer feedback folded into the
// prompt. The refined record replaces the old one, so review flags start
// over. Falls back to the feedback stored by Review when none is passed.
func (g *Generator) Refine(ctx context.Context, clusterID, feedback string) (*rbac.GeneratedRole, error) {
	g.mu.RLock()
	current, ok := g.cache[clusterID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, clusterID)
	}
	if feedback == "" {
		feedback = current.Feedback
	}
	if feedback == "" {
		return nil, fmt.Errorf("%w: cluster %s", ErrNoFeedback, clusterID)
	}

	utils.Log.Infof("Refining role for cluster %s", clusterID)
	raw, err := g.gateway.Generate(ctx, prompt.Refine(current, feedback), true)
	if err != nil {
		return nil, err
	}

	role := &rbac.GeneratedRole{
		ClusterID:    clusterID,
		RoleName:     stringField(raw, "role_name", current.RoleName),
		Description:  stringField(raw, "description", current.Description),
		Rationale:    stringField(raw, "rationale", current.Rationale),
		RiskLevel:    rbac.ParseRiskLevel(stringField(raw, "risk_level", string(current.RiskLevel))),
		Entitlements: current.Entitlements,
		UserSummary:  current.UserSummary,
		GeneratedAt:  time.Now(),
		Feedback:     feedback,
	}

	g.mu.Lock()
	g.cache[clusterID] = role
	g.mu.Unlock()

	utils.Log.Infof("Refined role %q for cluster %s", role.RoleName, clusterID)
	return role, nil
}

// Review marks the cached record as reviewed, mutating it in place.
func (g *Generator) Review(clusterID string, approved bool, feedback string) (*rbac.GeneratedRole, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	role, ok := g.cache[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, clusterID)
	}
	role.Reviewed = true
	role.Approved = approved
	if feedback != "" {
		role.Feedback = feedback
	}
	utils.Log.Infof("Role for cluster %s reviewed: approved=%t", clusterID, approved)
	return role, nil
}

// Get returns the cached record for a cluster, if any.
func (g *Generator) Get(clusterID string) (*rbac.GeneratedRole, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	role, ok := g.cache[clusterID]
	return role, ok
}

// All returns every cached record ordered by cluster id.
func (g *Generator) All() []*rbac.GeneratedRole {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*rbac.GeneratedRole, 0, len(g.cache))
	for _, role := range g.cache {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	return out
}

// Count reports how many clusters have a generated role.
func (g *Generator) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}
