package rbac

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClusterNotFound is returned when a cluster id is absent from the
// loaded cluster table.
var ErrClusterNotFound = errors.New("cluster not found")

// ErrRoleNotFound is returned by review/select operations when nothing has
// been generated for the cluster yet.
var ErrRoleNotFound = errors.New("no generated role for cluster")

// RiskLevel is the coarse sensitivity classification assigned by the model.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ParseRiskLevel maps free-form model output onto a known level. Anything
// unrecognized becomes MEDIUM.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow
	case RiskHigh:
		return RiskHigh
	case RiskCritical:
		return RiskCritical
	default:
		return RiskMedium
	}
}

// RoleStyle is one of the three naming framings used for multi-option
// generation.
type RoleStyle string

const (
	StyleBusiness     RoleStyle = "business_focused"
	StyleTechnical    RoleStyle = "technical_focused"
	StyleHierarchical RoleStyle = "hierarchical_focused"
)

// ParseRoleStyle maps free-form model output onto a known style. Anything
// unrecognized becomes business_focused.
func ParseRoleStyle(s string) RoleStyle {
	switch RoleStyle(strings.ToLower(strings.TrimSpace(s))) {
	case StyleTechnical:
		return StyleTechnical
	case StyleHierarchical:
		return StyleHierarchical
	default:
		return StyleBusiness
	}
}

// Entitlement is a single atomic access grant from the catalog.
type Entitlement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// String renders the one-line form used in prompts and flat exports.
func (e Entitlement) String() string {
	return fmt.Sprintf("%s: %s - %s", e.ID, e.Name, e.Description)
}

// UserSummary aggregates the user rows belonging to one cluster.
type UserSummary struct {
	TotalUsers             int            `json:"total_users"`
	TopJobTitles           []string       `json:"top_job_titles"`
	TopDepartments         []string       `json:"top_departments"`
	JobTitleDistribution   map[string]int `json:"job_title_distribution"`
	DepartmentDistribution map[string]int `json:"department_distribution"`
}

// ClusterSnapshot is the consolidated per-cluster view handed to the prompt
// builder. Entitlement order follows the source listing order.
type ClusterSnapshot struct {
	ClusterID    string        `json:"cluster_id"`
	Entitlements []Entitlement `json:"entitlements"`
	UserSummary  UserSummary   `json:"user_summary"`
}

// EntitlementCount is always derived, never stored.
func (s ClusterSnapshot) EntitlementCount() int {
	return len(s.Entitlements)
}

// GeneratedRole is a single synthesized role definition for one cluster.
type GeneratedRole struct {
	ClusterID    string        `json:"cluster_id"`
	RoleName     string        `json:"role_name"`
	Description  string        `json:"description"`
	Rationale    string        `json:"rationale"`
	RiskLevel    RiskLevel     `json:"risk_level"`
	Entitlements []Entitlement `json:"entitlements"`
	UserSummary  UserSummary   `json:"user_summary"`
	GeneratedAt  time.Time     `json:"generated_at"`
	Reviewed     bool          `json:"reviewed"`
	Approved     bool          `json:"approved"`
	Feedback     string        `json:"feedback,omitempty"`
}

// RoleOption is one of the three alternative names for the same access
// grouping.
type RoleOption struct {
	OptionNumber int       `json:"option_number"`
	RoleName     string    `json:"role_name"`
	Style        RoleStyle `json:"style"`
	Description  string    `json:"description"`
	Rationale    string    `json:"rationale"`
}

// GeneratedRoleSet carries the three generated options plus the model's
// recommendation, with entitlements and user summary inlined so callers do
// not need a second round-trip.
type GeneratedRoleSet struct {
	ClusterID            string        `json:"cluster_id"`
	RoleOptions          []RoleOption  `json:"role_options"`
	RecommendedOption    int           `json:"recommended_option"`
	RecommendationReason string        `json:"recommendation_reason"`
	RiskLevel            RiskLevel     `json:"risk_level"`
	Entitlements         []Entitlement `json:"entitlements"`
	UserSummary          UserSummary   `json:"user_summary"`
	GeneratedAt          time.Time     `json:"generated_at"`
	SelectedOption       *int          `json:"selected_option,omitempty"`
	Reviewed             bool          `json:"reviewed"`
	Approved             bool          `json:"approved"`
	Feedback             string        `json:"feedback,omitempty"`
}

// Option returns the option with the given number, if it was rendered.
func (rs *GeneratedRoleSet) Option(number int) (RoleOption, bool) {
	for _, opt := range rs.RoleOptions {
		if opt.OptionNumber == number {
			return opt, true
		}
	}
	return RoleOption{}, false
}
