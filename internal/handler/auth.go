package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	internal_errors "github.com/growplant/growplant/internal/errors"
	"github.com/growplant/growplant/internal/service"
	"github.com/growplant/growplant/internal/utils"
)

// loginPage is where link-click flows land. The page itself is served by a
// separate frontend; status tells it which message to show.
const loginPage = "/login"

func resendActivationPath(email string) string {
	return "/v1/auth/resend-activation/" + utils.EncodeSegment(email)
}

type signupRequest struct {
	Email           string `validate:"required" json:"email"`
	Password        string `validate:"required" json:"password"`
	PasswordConfirm string `validate:"required" json:"password_confirm"`
}

type credentials struct {
	Email    string `validate:"required" json:"email"`
	Password string `validate:"required" json:"password"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var body signupRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	err := h.account.Signup(body.Email, body.Password, body.PasswordConfirm)
	if err != nil {
		// An existing inactive account is not an error page: the caller is
		// sent to the resend flow keyed by that email.
		if pending, ok := err.(*internal_errors.AccountPending); ok {
			http.Redirect(w, r, resendActivationPath(pending.Email), http.StatusSeeOther)
			return
		}
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	w.Write([]byte("A confirmation email has been sent. Follow the activation link to log in"))
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	result, err := h.account.Activate(chi.URLParam(r, "uidb64"), chi.URLParam(r, "token"))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	switch result.Status {
	case service.ActivationOk:
		http.Redirect(w, r, loginPage+"?status=activated", http.StatusFound)
	case service.ActivationAlreadyActive:
		http.Redirect(w, r, loginPage+"?status=already_active", http.StatusFound)
	case service.ActivationBadToken:
		http.Redirect(w, r, resendActivationPath(result.Email), http.StatusFound)
	default: // undecodable uid or unknown user
		http.Redirect(w, r, loginPage+"?status=invalid_link", http.StatusFound)
	}
}

func (h *Handler) ResendActivationGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.account.ActivationTarget(chi.URLParam(r, "emailb64"))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	if user.Active {
		http.Redirect(w, r, loginPage+"?status=already_active", http.StatusFound)
		return
	}

	writeJSON(w, map[string]string{"email": user.Email})
}

func (h *Handler) ResendActivationPost(w http.ResponseWriter, r *http.Request) {
	user, err := h.account.ResendActivation(chi.URLParam(r, "emailb64"))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	if user.Active {
		http.Redirect(w, r, loginPage+"?status=already_active", http.StatusSeeOther)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("A new activation email has been sent"))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := utils.DecodeValidate(r.Body, &creds); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	accessToken, err := h.account.Login(creds.Email, creds.Password)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     "accessToken",
		Value:    accessToken,
		MaxAge:   int(h.cfg.JwtTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Public.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("You logged in"))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     "accessToken",
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Public.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("You logged out"))
}

type passwordResetRequest struct {
	Email string `validate:"required" json:"email"`
}

// PasswordReset always answers with the same body whether or not the email
// belongs to an account, so this endpoint can't be used for enumeration.
func (h *Handler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var body passwordResetRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	if err := h.account.RequestPasswordReset(body.Email); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("If an account exists for that email, a reset link has been sent"))
}

func (h *Handler) ResetConfirmGet(w http.ResponseWriter, r *http.Request) {
	if err := h.account.CheckResetLink(chi.URLParam(r, "uidb64"), chi.URLParam(r, "token")); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Reset link is valid"))
}

type resetConfirmRequest struct {
	NewPassword        string `validate:"required" json:"new_password"`
	NewPasswordConfirm string `validate:"required" json:"new_password_confirm"`
}

func (h *Handler) ResetConfirmPost(w http.ResponseWriter, r *http.Request) {
	var body resetConfirmRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	err := h.account.ConfirmPasswordReset(chi.URLParam(r, "uidb64"), chi.URLParam(r, "token"),
		body.NewPassword, body.NewPasswordConfirm)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Your password has been reset. You can login now"))
}
