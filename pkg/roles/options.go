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

// OptionsGenerator is the multi-option orchestrator: same shape as
// Generator, but each generation yields three alternative role names plus a
// recommendation.
type OptionsGenerator struct {
	data      *dataset.Consolidator
	gateway   Gateway
	outputDir string

	mu    sync.RWMutex
	cache map[string]*rbac.GeneratedRoleSet
}

func NewOptionsGenerator(data *dataset.Consolidator, gateway Gateway, outputDir string) *OptionsGenerator {
	return &OptionsGenerator{
		data:      data,
		gateway:   gateway,
		outputDir: outputDir,
		cache:     make(map[string]*rbac.GeneratedRoleSet),
	}
}

// Generate synthesizes three role options for one cluster. The model is not
// trusted to number or style the options consistently, so everything is
// validated defensively with documented fallbacks.
func (g *OptionsGenerator) Generate(ctx context.Context, clusterID string, force bool) (*rbac.GeneratedRoleSet, error) {
	if !force {
		g.mu.RLock()
		cached, ok := g.cache[clusterID]
		g.mu.RUnlock()
		if ok {
			utils.Log.Infof("Role options already exist for cluster %s", clusterID)
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

	utils.Log.Infof("Generating 3 role options for cluster %s", clusterID)
	raw, err := g.gateway.Generate(ctx, prompt.Multi(snap), true)
	if err != nil {
		return nil, err
	}

	roleSet := &rbac.GeneratedRoleSet{
		ClusterID:            clusterID,
		RoleOptions:          parseOptions(raw, clusterID),
		RecommendedOption:    intField(raw, "recommended_option", 1),
		RecommendationReason: stringField(raw, "recommendation_reason", ""),
		RiskLevel:            rbac.ParseRiskLevel(stringField(raw, "risk_level", "MEDIUM")),
		Entitlements:         snap.Entitlements,
		UserSummary:          snap.UserSummary,
		GeneratedAt:          time.Now(),
	}

	g.mu.Lock()
	g.cache[clusterID] = roleSet
	g.mu.Unlock()

	utils.Log.Infof("Generated %d role options for cluster %s", len(roleSet.RoleOptions), clusterID)
	return roleSet, nil
}

func parseOptions(raw map[string]any, clusterID string) []rbac.RoleOption {
	items, _ := raw["role_options"].([]any)
	options := make([]rbac.RoleOption, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		options = append(options, rbac.RoleOption{
			OptionNumber: intField(m, "option_number", i+1),
			RoleName:     stringField(m, "role_name", "Role_"+clusterID),
			Style:        rbac.ParseRoleStyle(stringField(m, "style", "")),
			Description:  stringField(m, "description", ""),
			Rationale:    stringField(m, "rationale", ""),
		})
	}

	// Option numbers must be unique and positive so selection is
	// unambiguous; when the model repeats or drops numbers, renumber in
	// listing order.
	seen := make(map[int]bool, len(options))
	for _, opt := range options {
		if opt.OptionNumber <= 0 || seen[opt.OptionNumber] {
			for i := range options {
				options[i].OptionNumber = i + 1
			}
			break
		}
		seen[opt.OptionNumber] = true
	}
	return options
}

// BatchGenerate fans Generate out over the target set; see
// Generator.BatchGenerate for the partial-failure contract.
func (g *OptionsGenerator) BatchGenerate(ctx context.Context, clusterIDs []string, processAll bool, limit int) (map[string]*rbac.GeneratedRoleSet, error) {
	targets, err := resolveTargets(g.data, clusterIDs, processAll)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultOptionsConcurrency
	}

	results := fanOut(ctx, targets, limit, func(ctx context.Context, id string) (*rbac.GeneratedRoleSet, error) {
		return g.Generate(ctx, id, false)
	})
	utils.Log.Infof("Generated role options for %d out of %d clusters", len(results), len(targets))
	return results, nil
}

// SelectOption records which of the rendered options the reviewer picked.
// The option number must reference one of the actually rendered options.
func (g *OptionsGenerator) SelectOption(clusterID string, option int, feedback string) (*rbac.GeneratedRoleSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	roleSet, ok := g.cache[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, clusterID)
	}
	if _, ok := roleSet.Option(option); !ok {
		return nil, fmt.Errorf("cluster %s has no option %d", clusterID, option)
	}

	roleSet.SelectedOption = &option
	if feedback != "" {
		roleSet.Feedback = feedback
	}
	utils.Log.Infof("Selected option %d for cluster %s", option, clusterID)
	return roleSet, nil
}

// Review marks the cached record as reviewed, mutating it in place.
func (g *OptionsGenerator) Review(clusterID string, approved bool, feedback string) (*rbac.GeneratedRoleSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	roleSet, ok := g.cache[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, clusterID)
	}
	roleSet.Reviewed = true
	roleSet.Approved = approved
	if feedback != "" {
		roleSet.Feedback = feedback
	}
	utils.Log.Infof("Role set for cluster %s reviewed: approved=%t", clusterID, approved)
	return roleSet, nil
}

// Get returns the cached record for a cluster, if any.
func (g *OptionsGenerator) Get(clusterID string) (*rbac.GeneratedRoleSet, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	roleSet, ok := g.cache[clusterID]
	return roleSet, ok
}

// All returns every cached record ordered by cluster id.
func (g *OptionsGenerator) All() []*rbac.GeneratedRoleSet {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*rbac.GeneratedRoleSet, 0, len(g.cache))
	for _, roleSet := range g.cache {
		out = append(out, roleSet)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	return out
}

// Count reports how many clusters have generated options.
func (g *OptionsGenerator) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}
