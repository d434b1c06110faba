package roles

import (
	"rolemint/pkg/rbac"
)

// Stats summarizes the review pipeline across every generated role set.
type Stats struct {
	TotalClusters                int                    `json:"total_clusters"`
	Reviewed                     int                    `json:"reviewed"`
	Approved                     int                    `json:"approved"`
	Pending                      int                    `json:"pending"`
	RiskDistribution             map[rbac.RiskLevel]int `json:"risk_distribution"`
	StylePreference              map[rbac.RoleStyle]int `json:"style_preference"`
	RecommendationAcceptanceRate float64                `json:"recommendation_acceptance_rate"`
}

// Stats aggregates over the live cache: risk distribution, which naming
// styles reviewers actually pick, and how often the model's recommendation
// is accepted.
func (g *OptionsGenerator) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{
		TotalClusters:    len(g.cache),
		RiskDistribution: make(map[rbac.RiskLevel]int),
		StylePreference:  make(map[rbac.RoleStyle]int),
	}

	selected := 0
	recommendedSelected := 0
	for _, roleSet := range g.cache {
		if roleSet.Reviewed {
			stats.Reviewed++
		} else {
			stats.Pending++
		}
		if roleSet.Approved {
			stats.Approved++
		}
		stats.RiskDistribution[roleSet.RiskLevel]++

		if roleSet.SelectedOption == nil {
			continue
		}
		selected++
		if *roleSet.SelectedOption == roleSet.RecommendedOption {
			recommendedSelected++
		}
		if opt, ok := roleSet.Option(*roleSet.SelectedOption); ok {
			stats.StylePreference[opt.Style]++
		}
	}

	if selected > 0 {
		stats.RecommendationAcceptanceRate = float64(recommendedSelected) / float64(selected) * 100
	}
	return stats
}
