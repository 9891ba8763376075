package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shuttle-backend/internal/middleware"
	"shuttle-backend/internal/models"
	"shuttle-backend/pkg/utils"
)

// UserFinder looks users up for login
type UserFinder interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string               `json:"token"`
	User  *models.UserResponse `json:"user"`
}

func Login(users UserFinder, auth *middleware.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeBody(r, &req); err != nil {
			respondServiceError(w, err)
			return
		}

		log.Printf("🔐 Login attempt for: %s", req.Email)

		user, err := users.GetByEmail(r.Context(), req.Email)
		if err != nil {
			log.Printf("❌ User not found: %s", req.Email)
			utils.RespondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			log.Printf("❌ Invalid password for: %s", req.Email)
			utils.RespondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}

		tokenString, err := auth.IssueToken(user, time.Now())
		if err != nil {
			log.Printf("❌ Failed to create token: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create token")
			return
		}

		userResponse := user.ToUserResponse()
		log.Printf("✅ Login successful: %s (%s)", user.Email, user.Role)
		utils.RespondSuccess(w, http.StatusOK, LoginResponse{Token: tokenString, User: &userResponse})
	}
}
