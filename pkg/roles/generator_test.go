package roles

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolemint/pkg/dataset"
	"rolemint/pkg/llm"
	"rolemint/pkg/rbac"
)

// stubGateway satisfies Gateway and records call and concurrency counts.
type stubGateway struct {
	delay       time.Duration
	respond     func(prompt string) (map[string]any, error)
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *stubGateway) Generate(ctx context.Context, prompt string, jsonMode bool) (map[string]any, error) {
	s.calls.Add(1)
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxInFlight.Load()
		if cur <= seen || s.maxInFlight.CompareAndSwap(seen, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.respond != nil {
		return s.respond(prompt)
	}
	return map[string]any{
		"role_name":   "Stub Role",
		"description": "stub description",
		"rationale":   "stub rationale",
		"risk_level":  "LOW",
	}, nil
}

// newTestData writes a fixture input dir with n clusters and returns a
// consolidator over it.
func newTestData(t *testing.T, n int) *dataset.Consolidator {
	t.Helper()
	dir := t.TempDir()

	catalog := `{
		"E1": {"name": "Read DB", "description": "Read access"},
		"E2": {"name": "Write Reports", "description": "Write access"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, dataset.CatalogFile), []byte(catalog), 0o644))

	clusters := "cluster_id,entitlements,user_count\n"
	users := "user_id,cluster_id,job_title,department\n"
	for i := 1; i <= n; i++ {
		clusters += fmt.Sprintf("C%d,\"E1,E2\",2\n", i)
		users += fmt.Sprintf("U%da,C%d,Analyst,Finance\nU%db,C%d,Analyst,Finance\n", i, i, i, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, dataset.ClustersFile), []byte(clusters), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, dataset.UsersFile), []byte(users), 0o644))

	return dataset.New(dir)
}

func promptCluster(prompt, id string) bool {
	return strings.Contains(prompt, "Cluster ID: "+id+"\n")
}

func TestGenerateIdempotent(t *testing.T) {
	stub := &stubGateway{}
	g := NewGenerator(newTestData(t, 1), stub, t.TempDir())

	first, err := g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Equal(t, "Stub Role", first.RoleName)
	assert.Equal(t, rbac.RiskLow, first.RiskLevel)
	assert.Equal(t, 2, len(first.Entitlements))
	assert.Equal(t, 2, first.UserSummary.TotalUsers)
}

func TestForceRegenerateCallsGatewayAndResetsReview(t *testing.T) {
	stub := &stubGateway{}
	g := NewGenerator(newTestData(t, 1), stub, t.TempDir())

	_, err := g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)
	_, err = g.Review("C1", true, "looks good")
	require.NoError(t, err)

	fresh, err := g.Generate(context.Background(), "C1", true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), stub.calls.Load())
	assert.False(t, fresh.Reviewed)
	assert.False(t, fresh.Approved)
	assert.Empty(t, fresh.Feedback)
}

func TestGenerateUnknownCluster(t *testing.T) {
	stub := &stubGateway{}
	g := NewGenerator(newTestData(t, 1), stub, t.TempDir())

	_, err := g.Generate(context.Background(), "C404", false)
	assert.True(t, errors.Is(err, rbac.ErrClusterNotFound))
	assert.Equal(t, int32(0), stub.calls.Load())
	assert.Equal(t, 0, g.Count())
}

func TestGatewayFailureLeavesCacheUntouched(t *testing.T) {
	stub := &stubGateway{respond: func(string) (map[string]any, error) {
		return nil, &llm.TransportError{Message: "connection refused"}
	}}
	g := NewGenerator(newTestData(t, 1), stub, t.TempDir())

	_, err := g.Generate(context.Background(), "C1", false)
	require.Error(t, err)

	var transportErr *llm.TransportError
	assert.True(t, errors.As(err, &transportErr))
	_, ok := g.Get("C1")
	assert.False(t, ok)
}

func TestGenerateDefaultsMissingFields(t *testing.T) {
	stub := &stubGateway{respond: func(string) (map[string]any, error) {
		return map[string]any{"description": "only a description"}, nil
	}}
	g := NewGenerator(newTestData(t, 1), stub, t.TempDir())

	role, err := g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)
	assert.Equal(t, "Role_C1", role.RoleName)
	assert.Equal(t, rbac.RiskMedium, role.RiskLevel)
	assert.Equal(t, "only a description", role.Description)
}

func TestBatchPartialFailure(t *testing.T) {
	failing := map[string]bool{"C2": true, "C4": true}
	stub := &stubGateway{respond: func(prompt string) (map[string]any, error) {
		for id := range failing {
			if promptCluster(prompt, id) {
				return nil, &llm.TransportError{Message: "rate limited"}
			}
		}
		return map[string]any{"role_name": "R", "risk_level": "LOW"}, nil
	}}
	g := NewGenerator(newTestData(t, 5), stub, t.TempDir())

	results, err := g.BatchGenerate(context.Background(), nil, true, 2)
	require.NoError(t, err)

	assert.Len(t, results, 3)
	for id := range failing {
		_, ok := results[id]
		assert.False(t, ok, "failed cluster %s must be omitted", id)
	}
	_, ok := g.Get("C2")
	assert.False(t, ok)
}

func TestBatchConcurrencyBound(t *testing.T) {
	stub := &stubGateway{delay: 20 * time.Millisecond}
	g := NewGenerator(newTestData(t, 10), stub, t.TempDir())

	results, err := g.BatchGenerate(context.Background(), nil, true, 3)
	require.NoError(t, err)

	assert.Len(t, results, 10)
	assert.LessOrEqual(t, stub.maxInFlight.Load(), int32(3))
	assert.Equal(t, int32(10), stub.calls.Load())
}

func TestBatchRequiresSelection(t *testing.T) {
	g := NewGenerator(newTestData(t, 1), &stubGateway{}, t.TempDir())
	_, err := g.BatchGenerate(context.Background(), nil, false, 0)
	assert.True(t, errors.Is(err, ErrNoClusterSelection))
}

func TestBatchSkipsAlreadyGenerated(t *testing.T) {
	stub := &stubGateway{}
	g := NewGenerator(newTestData(t, 3), stub, t.TempDir())

	_, err := g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)

	results, err := g.BatchGenerate(context.Background(), nil, true, 2)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	// C1 came from the cache, so only two fresh gateway calls.
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestReviewLifecycle(t *testing.T) {
	g := NewGenerator(newTestData(t, 1), &stubGateway{}, t.TempDir())

	_, err := g.Review("C1", true, "")
	assert.True(t, errors.Is(err, rbac.ErrRoleNotFound))

	_, err = g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)

	role, err := g.Review("C1", true, "fine as is")
	require.NoError(t, err)
	assert.True(t, role.Reviewed)
	assert.True(t, role.Approved)
	assert.Equal(t, "fine as is", role.Feedback)

	// Rejection flips approved but keeps reviewed.
	role, err = g.Review("C1", false, "")
	require.NoError(t, err)
	assert.True(t, role.Reviewed)
	assert.False(t, role.Approved)
	assert.Equal(t, "fine as is", role.Feedback)
}

func TestRefineFoldsFeedbackIntoPrompt(t *testing.T) {
	stub := &stubGateway{respond: func(prompt string) (map[string]any, error) {
		if strings.Contains(prompt, "previously generated") {
			return map[string]any{"role_name": "Refined Role", "risk_level": "HIGH"}, nil
		}
		return map[string]any{"role_name": "Stub Role", "description": "d", "risk_level": "LOW"}, nil
	}}
	g := NewGenerator(newTestData(t, 1), stub, t.TempDir())

	// Nothing generated yet.
	_, err := g.Refine(context.Background(), "C1", "shorter name")
	assert.True(t, errors.Is(err, rbac.ErrRoleNotFound))

	_, err = g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)

	// No feedback passed and none stored.
	_, err = g.Refine(context.Background(), "C1", "")
	assert.True(t, errors.Is(err, ErrNoFeedback))

	refined, err := g.Refine(context.Background(), "C1", "shorter name")
	require.NoError(t, err)
	assert.Equal(t, "Refined Role", refined.RoleName)
	assert.Equal(t, rbac.RiskHigh, refined.RiskLevel)
	assert.False(t, refined.Reviewed)
	assert.Equal(t, "shorter name", refined.Feedback)
	// Missing fields keep the previous record's values.
	assert.Equal(t, "d", refined.Description)

	cached, ok := g.Get("C1")
	require.True(t, ok)
	assert.Same(t, refined, cached)
}

func TestRefineUsesStoredReviewFeedback(t *testing.T) {
	stub := &stubGateway{respond: func(prompt string) (map[string]any, error) {
		if strings.Contains(prompt, "too broad") {
			return map[string]any{"role_name": "Narrowed Role"}, nil
		}
		return map[string]any{"role_name": "Stub Role", "risk_level": "LOW"}, nil
	}}
	g := NewGenerator(newTestData(t, 1), stub, t.TempDir())

	_, err := g.Generate(context.Background(), "C1", false)
	require.NoError(t, err)
	_, err = g.Review("C1", false, "too broad")
	require.NoError(t, err)

	refined, err := g.Refine(context.Background(), "C1", "")
	require.NoError(t, err)
	assert.Equal(t, "Narrowed Role", refined.RoleName)
	assert.Equal(t, "too broad", refined.Feedback)
}

func TestAllOrderedByClusterID(t *testing.T) {
	g := NewGenerator(newTestData(t, 3), &stubGateway{}, t.TempDir())
	for _, id := range []string{"C3", "C1", "C2"} {
		_, err := g.Generate(context.Background(), id, false)
		require.NoError(t, err)
	}

	all := g.All()
	require.Len(t, all, 3)
	assert.Equal(t, "C1", all[0].ClusterID)
	assert.Equal(t, "C2", all[1].ClusterID)
	assert.Equal(t, "C3", all[2].ClusterID)
}
