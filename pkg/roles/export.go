package roles

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rolemint/internal/utils"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// exportEnvelope is the JSON export shape shared by both orchestrators.
type exportEnvelope struct {
	GeneratedAt string `json:"generated_at"`
	TotalRoles  int    `json:"total_roles"`
	Roles       any    `json:"roles"`
}

func exportPath(outputDir, prefix, ext string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.%s", prefix, time.Now().Format("20060102_150405"), ext)
	return filepath.Join(outputDir, name), nil
}

func writeJSONExport(outputDir, prefix string, total int, roles any) (string, error) {
	path, err := exportPath(outputDir, prefix, "json")
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(exportEnvelope{
		GeneratedAt: time.Now().Format(time.RFC3339),
		TotalRoles:  total,
		Roles:       roles,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func writeCSVExport(outputDir, prefix string, header []string, rows [][]string) (string, error) {
	path, err := exportPath(outputDir, prefix, "csv")
	if err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

// Export serializes every cached record, reviewed or not, to a timestamped
// file. It is a point-in-time snapshot: nothing is marked exported and
// re-export is always possible.
func (g *Generator) Export(format string) (string, error) {
	all := g.All()

	switch format {
	case FormatJSON:
		path, err := writeJSONExport(g.outputDir, "generated_roles", len(all), all)
		if err != nil {
			return "", err
		}
		utils.Log.Infof("Exported %d roles to %s", len(all), path)
		return path, nil

	case FormatCSV:
		header := []string{"cluster_id", "role_name", "description", "rationale", "risk_level", "entitlement_count", "user_count", "reviewed", "approved"}
		rows := make([][]string, 0, len(all))
		for _, role := range all {
			rows = append(rows, []string{
				role.ClusterID,
				role.RoleName,
				role.Description,
				role.Rationale,
				string(role.RiskLevel),
				strconv.Itoa(len(role.Entitlements)),
				strconv.Itoa(role.UserSummary.TotalUsers),
				strconv.FormatBool(role.Reviewed),
				strconv.FormatBool(role.Approved),
			})
		}
		path, err := writeCSVExport(g.outputDir, "generated_roles", header, rows)
		if err != nil {
			return "", err
		}
		utils.Log.Infof("Exported %d roles to %s", len(all), path)
		return path, nil

	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}

// Export serializes every cached role set; see Generator.Export. The CSV
// form flattens each set to one row carrying the selected option's name, or
// the recommended one when nothing was selected.
func (g *OptionsGenerator) Export(format string) (string, error) {
	all := g.All()

	switch format {
	case FormatJSON:
		path, err := writeJSONExport(g.outputDir, "generated_role_options", len(all), all)
		if err != nil {
			return "", err
		}
		utils.Log.Infof("Exported %d role sets to %s", len(all), path)
		return path, nil

	case FormatCSV:
		header := []string{"cluster_id", "role_name", "style", "recommended_option", "selected_option", "risk_level", "entitlement_count", "user_count", "reviewed", "approved"}
		rows := make([][]string, 0, len(all))
		for _, roleSet := range all {
			chosen := roleSet.RecommendedOption
			selected := ""
			if roleSet.SelectedOption != nil {
				chosen = *roleSet.SelectedOption
				selected = strconv.Itoa(chosen)
			}
			var name, style string
			if opt, ok := roleSet.Option(chosen); ok {
				name = opt.RoleName
				style = string(opt.Style)
			}
			rows = append(rows, []string{
				roleSet.ClusterID,
				name,
				style,
				strconv.Itoa(roleSet.RecommendedOption),
				selected,
				string(roleSet.RiskLevel),
				strconv.Itoa(len(roleSet.Entitlements)),
				strconv.Itoa(roleSet.UserSummary.TotalUsers),
				strconv.FormatBool(roleSet.Reviewed),
				strconv.FormatBool(roleSet.Approved),
			})
		}
		path, err := writeCSVExport(g.outputDir, "generated_role_options", header, rows)
		if err != nil {
			return "", err
		}
		utils.Log.Infof("Exported %d role sets to %s", len(all), path)
		return path, nil

	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}
