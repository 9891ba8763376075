package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/middleware"
	"shuttle-backend/internal/models"
	"shuttle-backend/pkg/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

const defaultStorageTimeout = 5 * time.Second

// storageContext bounds store reads a handler makes directly
func storageContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}

// decodeBody reads a JSON body into dst and runs its validate tags
func decodeBody(r *http.Request, dst interface{}) error {
	// an empty body decodes as the zero value and is left to the validate tags
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Validation("invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return apperrors.Validation("%s", strings.Join(msgs, ", "))
		}
		return apperrors.Validation("%v", err)
	}
	return nil
}

// respondServiceError maps a service error onto the response
func respondServiceError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("❌ %v", err)
		utils.RespondError(w, status, "Internal server error")
		return
	}
	utils.RespondError(w, status, err.Error())
}

func actorFrom(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	claims, ok := middleware.GetUserFromContext(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return models.Actor{}, false
	}
	return claims.Actor(), true
}
