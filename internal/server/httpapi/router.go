package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the REST routes. Everything except signup, login and the
// health probe requires a bearer token.
func NewRouter(h *Handlers, secretKey []byte) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/auth/signup/", h.Signup).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/auth/validate-gemini-key", h.ValidateGeminiKey).Methods(http.MethodPost)

	authed := r.PathPrefix("/auth").Subrouter()
	authed.Use(BearerAuth(secretKey))
	authed.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	authed.HandleFunc("/update-api-key", h.UpdateAPIKey).Methods(http.MethodPut)

	api := r.PathPrefix("/api/schemas").Subrouter()
	api.Use(BearerAuth(secretKey))
	api.HandleFunc("/my-schemas", h.MySchemas).Methods(http.MethodGet)
	api.HandleFunc("/upload", h.UploadSchema).Methods(http.MethodPost)
	api.HandleFunc("/test-runs/{run_id:[0-9]+}", h.TestRunDetails).Methods(http.MethodGet)
	api.HandleFunc("/test-runs/{run_id:[0-9]+}/analyze-failures", h.AnalyzeFailures).Methods(http.MethodPost)
	api.HandleFunc("/test-runs/{run_id:[0-9]+}/final-report", h.FinalReport).Methods(http.MethodGet)
	api.HandleFunc("/{schema_id:[0-9]+}", h.SchemaDetails).Methods(http.MethodGet)
	api.HandleFunc("/{schema_id:[0-9]+}/run-tests", h.RunTests).Methods(http.MethodPost)
	api.HandleFunc("/{schema_id:[0-9]+}/test-runs", h.ListTestRuns).Methods(http.MethodGet)
	api.HandleFunc("/{schema_id:[0-9]+}/complete-test-flow", h.CompleteTestFlow).Methods(http.MethodPost)

	return r
}
