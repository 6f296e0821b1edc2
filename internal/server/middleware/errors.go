package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/keygate/keygate/internal/model"
)

// writeError writes the standard error envelope. The handler package has
// its own writer; middleware cannot import it without a cycle.
func writeError(w http.ResponseWriter, status int, message string, context map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Message: message,
			Context: context,
		},
	})
}
