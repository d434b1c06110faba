package roles

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportJSON(t *testing.T) {
	outDir := t.TempDir()
	g := NewGenerator(newTestData(t, 2), &stubGateway{}, outDir)

	for _, id := range []string{"C1", "C2"} {
		_, err := g.Generate(context.Background(), id, false)
		require.NoError(t, err)
	}
	_, err := g.Review("C1", true, "")
	require.NoError(t, err)

	path, err := g.Export(FormatJSON)
	require.NoError(t, err)
	assert.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var envelope struct {
		GeneratedAt string            `json:"generated_at"`
		TotalRoles  int               `json:"total_roles"`
		Roles       []json.RawMessage `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.NotEmpty(t, envelope.GeneratedAt)
	assert.Equal(t, 2, envelope.TotalRoles)
	require.Len(t, envelope.Roles, 2)

	// Unreviewed records are exported too.
	var first map[string]any
	require.NoError(t, json.Unmarshal(envelope.Roles[1], &first))
	assert.Equal(t, "C2", first["cluster_id"])
	assert.Equal(t, false, first["reviewed"])
}

func TestExportCSV(t *testing.T) {
	outDir := t.TempDir()
	g := NewGenerator(newTestData(t, 2), &stubGateway{}, outDir)

	for _, id := range []string{"C1", "C2"} {
		_, err := g.Generate(context.Background(), id, false)
		require.NoError(t, err)
	}

	path, err := g.Export(FormatCSV)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "cluster_id", records[0][0])
	assert.Equal(t, "C1", records[1][0])
	assert.Equal(t, "Stub Role", records[1][1])
	assert.Equal(t, "LOW", records[1][4])
	assert.Equal(t, "2", records[1][5])
}

func TestExportUnsupportedFormat(t *testing.T) {
	g := NewGenerator(newTestData(t, 1), &stubGateway{}, t.TempDir())
	_, err := g.Export("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format")
}

func TestExportOptionsCSVFlattensSelection(t *testing.T) {
	outDir := t.TempDir()
	g := NewOptionsGenerator(newTestData(t, 2), optionsStub(), outDir)

	for _, id := range []string{"C1", "C2"} {
		_, err := g.Generate(context.Background(), id, false)
		require.NoError(t, err)
	}
	_, err := g.SelectOption("C1", 3, "")
	require.NoError(t, err)

	path, err := g.Export(FormatCSV)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	// C1 carries its selected option's name, C2 falls back to the
	// recommended one.
	assert.Equal(t, "Senior Finance Specialist", records[1][1])
	assert.Equal(t, "3", records[1][4])
	assert.Equal(t, "ERP System Read User", records[2][1])
	assert.Equal(t, "", records[2][4])
}

func TestExportOptionsJSON(t *testing.T) {
	outDir := t.TempDir()
	g := NewOptionsGenerator(newTestData(t, 1), optionsStub(), outDir)

	_, err := g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)

	path, err := g.Export(FormatJSON)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var envelope struct {
		TotalRoles int `json:"total_roles"`
		Roles      []struct {
			ClusterID   string `json:"cluster_id"`
			RoleOptions []struct {
				RoleName string `json:"role_name"`
			} `json:"role_options"`
		} `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, 1, envelope.TotalRoles)
	require.Len(t, envelope.Roles, 1)
	assert.Len(t, envelope.Roles[0].RoleOptions, 3)
}
