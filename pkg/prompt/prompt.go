// Package prompt renders the natural-language instruction blocks sent to
// the model. Builders are pure: same snapshot in, same text out.
package prompt

import (
	"fmt"
	"strings"

	"rolemint/pkg/rbac"
)

const singleTemplate = `You are analyzing a cluster of users with similar access patterns to create an RBAC role.

CLUSTER INFORMATION:
- Cluster ID: %s
- Total Users: %d
- Common Job Titles: %s
- Primary Departments: %s

ENTITLEMENTS IN THIS CLUSTER:
%s

Based on this information, generate a role definition with the following:

1. **Role Name**: Create a concise, professional role name (3-5 words) that reflects the primary function and level of access.
   - Use standard naming conventions (e.g., "Senior Financial Analyst", "Healthcare Data Administrator")
   - Avoid generic names like "User Role" or "Access Group"

2. **Description**: Write a 2-3 sentence description that:
   - Explains the primary purpose of this role
   - Identifies the key responsibilities
   - Mentions the typical user profile

3. **Rationale**: Provide a 2-3 sentence business and security justification that:
   - Explains why this role grouping makes sense from a business perspective
   - Addresses the security principle of least privilege
   - Identifies any compliance or regulatory considerations

4. **Risk Level**: Assess the risk level (LOW, MEDIUM, HIGH, or CRITICAL) based on:
   - Sensitivity of data accessed
   - Potential for data modification
   - Scope of access across systems
   - Regulatory compliance implications

Respond in JSON format with keys: role_name, description, rationale, risk_level

Consider these factors:
- Follow the principle of least privilege
- Ensure the role is cohesive and logical
- Consider separation of duties where applicable
- Think about regulatory compliance (HIPAA, SOX, GDPR, etc.)`

const multiTemplate = `You are analyzing a cluster of users with similar access patterns to create RBAC roles.

CLUSTER INFORMATION:
- Cluster ID: %s
- Total Users: %d
- Common Job Titles: %s
- Primary Departments: %s

ENTITLEMENTS IN THIS CLUSTER:
%s

Generate THREE different role options for this cluster, each with a different naming approach:

1. **Business-Focused Role**: Name emphasizes business function and responsibilities
   - Use business terminology
   - Focus on what the person does in the organization
   - Example style: "Financial Report Analyst", "Healthcare Claims Processor"

2. **Technical-Focused Role**: Name emphasizes systems and technical access
   - Use technical/system terminology
   - Focus on the systems and data being accessed
   - Example style: "ERP System Read User", "Medical Database Operator"

3. **Hierarchical-Focused Role**: Name emphasizes seniority and organizational level
   - Include level indicators (Senior, Lead, Junior, etc.)
   - Focus on organizational hierarchy and scope
   - Example style: "Senior Finance Specialist", "Lead Data Administrator"

For EACH of the three role options, provide:
- role_name: The role name following the specific style
- description: A 2-3 sentence description of the role's purpose and responsibilities
- rationale: A 2-3 sentence business and security justification
- style: The naming style used (business_focused, technical_focused, or hierarchical_focused)

Also provide:
- recommended_option: Which option (1, 2, or 3) you recommend as most appropriate
- risk_level: Overall risk assessment (LOW, MEDIUM, HIGH, or CRITICAL)
- recommendation_reason: Why you recommend that specific option

Respond in JSON format with this structure:
{
  "role_options": [
    {
      "option_number": 1,
      "role_name": "...",
      "style": "business_focused",
      "description": "...",
      "rationale": "..."
    },
    {
      "option_number": 2,
      "role_name": "...",
      "style": "technical_focused",
      "description": "...",
      "rationale": "..."
    },
    {
      "option_number": 3,
      "role_name": "...",
      "style": "hierarchical_focused",
      "description": "...",
      "rationale": "..."
    }
  ],
  "recommended_option": 1,
  "recommendation_reason": "...",
  "risk_level": "..."
}

Consider these factors:
- Follow the principle of least privilege
- Ensure each role name is clear and professional
- Make each option distinctly different while accurately representing the same access
- Consider regulatory compliance (HIPAA, SOX, GDPR, etc.)
- Think about how each naming style would resonate with different stakeholders`

const refineTemplate = `You previously generated this RBAC role:

Role Name: %s
Description: %s
Rationale: %s
Risk Level: %s

The reviewer provided this feedback:
%s

Please refine the role definition based on this feedback. Maintain the same JSON format with keys: role_name, description, rationale, risk_level`

// Single renders the single-role prompt for one cluster snapshot.
func Single(snap rbac.ClusterSnapshot) string {
	return fmt.Sprintf(singleTemplate,
		snap.ClusterID,
		snap.UserSummary.TotalUsers,
		joinOrNotSpecified(snap.UserSummary.TopJobTitles, 5),
		joinOrNotSpecified(snap.UserSummary.TopDepartments, 3),
		entitlementBlock(snap.Entitlements),
	)
}

// Multi renders the three-option prompt for one cluster snapshot.
func Multi(snap rbac.ClusterSnapshot) string {
	return fmt.Sprintf(multiTemplate,
		snap.ClusterID,
		snap.UserSummary.TotalUsers,
		joinOrNotSpecified(snap.UserSummary.TopJobTitles, 5),
		joinOrNotSpecified(snap.UserSummary.TopDepartments, 3),
		entitlementBlock(snap.Entitlements),
	)
}

// Refine renders a follow-up prompt asking the model to rework a role based
// on reviewer feedback.
func Refine(role *rbac.GeneratedRole, feedback string) string {
	return fmt.Sprintf(refineTemplate,
		role.RoleName, role.Description, role.Rationale, role.RiskLevel, feedback)
}

// entitlementBlock never truncates: with very large clusters the prompt
// length is unbounded and bounding it is the caller's problem.
func entitlementBlock(entitlements []rbac.Entitlement) string {
	lines := make([]string, 0, len(entitlements))
	for _, e := range entitlements {
		lines = append(lines, "   - "+e.String())
	}
	return strings.Join(lines, "\n")
}

func joinOrNotSpecified(items []string, limit int) string {
	if len(items) == 0 {
		return "Not specified"
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return strings.Join(items, ", ")
}
