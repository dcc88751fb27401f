// Package httpapi is the public REST surface of the FlowGuard server:
// router, bearer-token middleware, and handlers. Error bodies always have
// the shape {"detail": ...}.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/server/services"
)

type detailResponse struct {
	Detail any `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

// writeError maps service errors to HTTP statuses. Anything unrecognized is
// an opaque 500; internals never leak into the body.
func writeError(w http.ResponseWriter, err error) {
	var rejected *services.SchemaRejectedError
	if errors.As(err, &rejected) {
		writeDetail(w, http.StatusBadRequest, map[string]any{
			"message": "Schema validation failed",
			"errors":  rejected.Errors,
		})
		return
	}

	switch {
	case errors.Is(err, common.ErrorValidation):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrInvalidAPIKey):
		writeDetail(w, http.StatusBadRequest, "Gemini API key validation failed. Please check your API key.")
	case errors.Is(err, common.ErrorAlreadyExists):
		writeDetail(w, http.StatusBadRequest, "User with this email already exists")
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		writeDetail(w, http.StatusUnauthorized, "Invalid Credentials")
	case errors.Is(err, common.ErrorNotFound):
		writeDetail(w, http.StatusNotFound, "Not found")
	default:
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
