package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"rolemint/internal/utils"
	"rolemint/pkg/dataset"
	"rolemint/pkg/llm"
	"rolemint/pkg/rbac"
	"rolemint/pkg/roles"
)

// uploadNames maps the upload type to the canonical input file name the
// consolidator reads.
var uploadNames = map[string]string{
	"catalog":  dataset.CatalogFile,
	"clusters": dataset.ClustersFile,
	"users":    dataset.UsersFile,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: unknown cluster or
// role 404, bad input 400, model transport 502, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var validationErr *dataset.ValidationError
	var transportErr *llm.TransportError
	switch {
	case errors.Is(err, rbac.ErrClusterNotFound), errors.Is(err, rbac.ErrRoleNotFound):
		status = http.StatusNotFound
	case errors.As(err, &validationErr),
		errors.Is(err, roles.ErrNoClusterSelection),
		errors.Is(err, roles.ErrNoFeedback):
		status = http.StatusBadRequest
	case errors.As(err, &transportErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	entitlements, clusters, users := s.Data.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"data_loaded":  s.Data.Loaded(),
		"entitlements": entitlements,
		"clusters":     clusters,
		"users":        users,
	})
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	if err := s.Data.EnsureLoaded(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cluster_ids": s.Data.ClusterIDs()})
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.Data.EnsureLoaded(); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.Data.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cluster_id":        snap.ClusterID,
		"entitlement_count": snap.EntitlementCount(),
		"entitlements":      snap.Entitlements,
		"user_summary":      snap.UserSummary,
	})
}

// handleUpload saves the file under its canonical input name and triggers a
// full reload of all three tables. A validation failure surfaces as 400 and
// must be fixed by re-uploading a corrected file.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, ok := uploadNames[r.URL.Query().Get("type")]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown upload type, want catalog, clusters or users"})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.InputDir, 0o755); err != nil {
		writeError(w, err)
		return
	}
	path := filepath.Join(s.InputDir, name)
	dst, err := os.Create(path)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, err)
		return
	}
	dst.Close()

	if err := s.Data.Load(); err != nil {
		writeError(w, err)
		return
	}
	utils.Log.Infof("Uploaded %s and reloaded data", name)
	writeJSON(w, http.StatusOK, map[string]any{"filename": name, "status": "success"})
}

type generateRequest struct {
	ClusterID       string `json:"cluster_id"`
	ForceRegenerate bool   `json:"force_regenerate"`
}

type batchRequest struct {
	ClusterIDs      []string `json:"cluster_ids"`
	ProcessAll      bool     `json:"process_all"`
	ConcurrentLimit int      `json:"concurrent_limit"`
}

type reviewRequest struct {
	ClusterID string `json:"cluster_id"`
	Approved  bool   `json:"approved"`
	Feedback  string `json:"feedback"`
}

type selectRequest struct {
	ClusterID      string `json:"cluster_id"`
	SelectedOption int    `json:"selected_option"`
	Feedback       string `json:"feedback"`
}

type exportRequest struct {
	Format string `json:"format"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	role, err := s.Roles.Generate(r.Context(), req.ClusterID, req.ForceRegenerate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := s.Roles.BatchGenerate(r.Context(), req.ClusterIDs, req.ProcessAll, req.ConcurrentLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_generated": len(results),
		"roles":           results,
	})
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"total": s.Roles.Count(),
		"roles": s.Roles.All(),
	})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	role, err := s.Roles.Review(req.ClusterID, req.Approved, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

type refineRequest struct {
	ClusterID string `json:"cluster_id"`
	Feedback  string `json:"feedback"`
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	role, err := s.Roles.Refine(r.Context(), req.ClusterID, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Format == "" {
		req.Format = roles.FormatJSON
	}
	path, err := s.Roles.Export(req.Format)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleGenerateOptions(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	roleSet, err := s.Options.Generate(r.Context(), req.ClusterID, req.ForceRegenerate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roleSet)
}

func (s *Server) handleBatchOptions(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := s.Options.BatchGenerate(r.Context(), req.ClusterIDs, req.ProcessAll, req.ConcurrentLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_generated": len(results),
		"role_sets":       results,
	})
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	roleSet, ok := s.Options.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no generated options for cluster " + r.PathValue("id")})
		return
	}
	writeJSON(w, http.StatusOK, roleSet)
}

func (s *Server) handleSelectOption(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	roleSet, err := s.Options.SelectOption(req.ClusterID, req.SelectedOption, req.Feedback)
	if err != nil {
		if errors.Is(err, rbac.ErrRoleNotFound) {
			writeError(w, err)
		} else {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, roleSet)
}

func (s *Server) handleReviewOptions(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	roleSet, err := s.Options.Review(req.ClusterID, req.Approved, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roleSet)
}

func (s *Server) handleExportOptions(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Format == "" {
		req.Format = roles.FormatJSON
	}
	path, err := s.Options.Export(req.Format)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Options.Stats())
}
