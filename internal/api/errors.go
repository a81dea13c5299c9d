package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/model"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string     `json:"error"`
	Code  model.Code `json:"code"`
	Kind  model.Kind `json:"kind"`
}

// hints replace terse domain messages with what the caller can do about
// them. Detail added by the engine is kept after the hint.
var hints = map[model.Code]string{
	"InsufficientFunds":      "insufficient balance to cover the wager; deposit funds first",
	"HouseNotInitialized":    "the house is not initialized; POST /api/v1/house first",
	"RandomnessNotFulfilled": "randomness has not been delivered yet; retry settlement later",
	"CancelNotAllowed":       "the game cannot be cancelled now",
	"ExposureLimitExceeded":  "too much stake is already in play for this identity",
	"NothingToClaim":         "the house has no accrued fees to claim",
}

// statusFor maps a domain error to its HTTP status.
func statusFor(e *model.Error) int {
	switch e.Code {
	case model.ErrDuplicateGameID.Code:
		return http.StatusConflict
	case model.ErrInvalidProof.Code:
		return http.StatusBadRequest
	case model.ErrUnknownRequest.Code:
		return http.StatusNotFound
	}
	switch e.Kind {
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindStateConflict, model.KindRandomness:
		return http.StatusConflict
	case model.KindFunds:
		return http.StatusUnprocessableEntity
	case model.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError writes a JSON error response for err. Non-domain errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, err error) {
	de, ok := model.AsError(err)
	if !ok {
		slog.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Code:  "Internal",
			Kind:  "internal",
		})
		return
	}

	status := statusFor(de)
	// A missing credential is 401; a present but insufficient one is 403.
	if errors.Is(err, auth.ErrMissingCredentials) {
		status = http.StatusUnauthorized
	}
	msg := de.Error()
	if hint, ok := hints[de.Code]; ok {
		msg = hint + " (" + msg + ")"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: de.Code, Kind: de.Kind})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: message,
		Code:  "BadRequest",
		Kind:  model.KindValidation,
	})
}

// decode reads a JSON body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "request body is required")
		} else {
			writeBadRequest(w, "invalid request body: "+err.Error())
		}
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
