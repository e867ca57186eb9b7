package handler

import (
	"net/http"
	"time"

	"github.com/growplant/growplant/internal/domain"
	"github.com/growplant/growplant/internal/middleware"
	"github.com/growplant/growplant/internal/utils"
)

type profileResponse struct {
	Id        domain.UserId `json:"id"`
	Email     string        `json:"email"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Staff     bool          `json:"is_staff"`
	CreatedAt time.Time     `json:"created_at"`
}

func toProfileResponse(user domain.User) profileResponse {
	return profileResponse{
		Id:        user.Id,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Staff:     user.Staff,
		CreatedAt: user.CreatedAt,
	}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r)
	if claims == nil {
		http.Error(w, "Please sign-in", http.StatusUnauthorized)
		return
	}

	user, err := h.account.Profile(claims.Id)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	writeJSON(w, toProfileResponse(user))
}

type updateProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r)
	if claims == nil {
		http.Error(w, "Please sign-in", http.StatusUnauthorized)
		return
	}

	var body updateProfileRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	user, err := h.account.UpdateProfile(claims.Id, domain.Profile{
		FirstName: body.FirstName,
		LastName:  body.LastName,
	})
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	writeJSON(w, toProfileResponse(user))
}
