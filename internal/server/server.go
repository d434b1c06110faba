package server

import (
	"net/http"

	"github.com/google/uuid"

	"rolemint/internal/utils"
	"rolemint/pkg/dataset"
	"rolemint/pkg/roles"
)

type Server struct {
	Data     *dataset.Consolidator
	Roles    *roles.Generator
	Options  *roles.OptionsGenerator
	InputDir string
	Username string
	Password string
}

func New(data *dataset.Consolidator, single *roles.Generator, multi *roles.OptionsGenerator, inputDir, user, pass string) *Server {
	return &Server{
		Data:     data,
		Roles:    single,
		Options:  multi,
		InputDir: inputDir,
		Username: user,
		Password: pass,
	}
}

func (s *Server) Start(addr string) error {
	utils.Log.Infof("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Handler builds the route table. Split from Start so tests can drive the
// mux through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/clusters", s.basicAuth(s.handleListClusters))
	mux.HandleFunc("GET /api/clusters/{id}", s.basicAuth(s.handleGetCluster))
	mux.HandleFunc("POST /api/data/upload", s.basicAuth(s.handleUpload))

	mux.HandleFunc("POST /api/roles/generate", s.basicAuth(s.handleGenerate))
	mux.HandleFunc("POST /api/roles/batch", s.basicAuth(s.handleBatch))
	mux.HandleFunc("GET /api/roles", s.basicAuth(s.handleListRoles))
	mux.HandleFunc("POST /api/roles/review", s.basicAuth(s.handleReview))
	mux.HandleFunc("POST /api/roles/refine", s.basicAuth(s.handleRefine))
	mux.HandleFunc("POST /api/roles/export", s.basicAuth(s.handleExport))

	mux.HandleFunc("POST /api/options/generate", s.basicAuth(s.handleGenerateOptions))
	mux.HandleFunc("POST /api/options/batch", s.basicAuth(s.handleBatchOptions))
	mux.HandleFunc("GET /api/options/{id}", s.basicAuth(s.handleGetOptions))
	mux.HandleFunc("POST /api/options/select", s.basicAuth(s.handleSelectOption))
	mux.HandleFunc("POST /api/options/review", s.basicAuth(s.handleReviewOptions))
	mux.HandleFunc("POST /api/options/export", s.basicAuth(s.handleExportOptions))
	mux.HandleFunc("GET /api/stats", s.basicAuth(s.handleStats))

	return requestID(mux)
}

// requestID tags every request with a UUID for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		utils.Log.Debugf("[%s] %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
