package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Unclassified errors never leak their text to the client.
func RespondError(w http.ResponseWriter, err error) {
	status, title := http.StatusInternalServerError, "Internal Error"
	switch {
	case errors.Is(err, shared.ErrValidation):
		status, title = http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, shared.ErrNotFound):
		status, title = http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrConflict):
		status, title = http.StatusConflict, "Conflict"
	case errors.Is(err, shared.ErrUnauthorized):
		status, title = http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, shared.ErrPersistence):
		status, title = http.StatusUnprocessableEntity, "Persistence Failed"
	}
	Problem(w, status, title, shared.UserSafeMessage(err))
}
