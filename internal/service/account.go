package service

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/bcrypt"

	"github.com/growplant/growplant/internal/config"
	"github.com/growplant/growplant/internal/domain"
	"github.com/growplant/growplant/internal/errors"
	"github.com/growplant/growplant/internal/logger"
	"github.com/growplant/growplant/internal/token"
	"github.com/growplant/growplant/internal/utils"
)

// ActivationStatus tells the handler which branch of the activation flow
// was taken, since each one redirects somewhere different.
type ActivationStatus int

const (
	ActivationOk ActivationStatus = iota
	ActivationAlreadyActive
	ActivationBadToken // user identified, token invalid or expired
	ActivationBadLink  // identifier undecodable or no such user
)

type ActivationResult struct {
	Status ActivationStatus
	Email  domain.Email // set when the user could be identified
}

type AccountService interface {
	Signup(email, password, passwordConfirm string) error
	Activate(uidB64, tok string) (ActivationResult, error)
	ActivationTarget(emailB64 string) (domain.User, error)
	ResendActivation(emailB64 string) (domain.User, error)
	Login(email, password string) (string, error)
	RequestPasswordReset(email string) error
	CheckResetLink(uidB64, tok string) error
	ConfirmPasswordReset(uidB64, tok, newPassword, passwordConfirm string) error
	Profile(id domain.UserId) (domain.User, error)
	UpdateProfile(id domain.UserId, profile domain.Profile) (domain.User, error)
}

type AccountStorage interface {
	SaveUser(user domain.User) (domain.UserId, error)
	User(email domain.Email) (domain.User, error)
	UserById(id domain.UserId) (domain.User, error)
	Activate(id domain.UserId) error
	UpdatePassword(id domain.UserId, passHash string) error
	UpdateProfile(id domain.UserId, profile domain.Profile) error
	UpdateLastLogin(id domain.UserId, at time.Time) error
}

type Email interface {
	Send(recipientEmail, subject, body string) error
	IsCorrect(email domain.Email) error
}

type TokenService interface {
	Mint(user domain.User, purpose token.Purpose) string
	Verify(user domain.User, tok string, purpose token.Purpose) bool
}

type Jwt interface {
	NewToken(user domain.User) (string, error)
}

// Account orchestrates the user lifecycle: signup creates an inactive row
// and emails an activation link, the link flips is_active once, login gates
// on the flag, and password reset mirrors activation with its own token
// purpose. User state always comes fresh from storage, never from a cache.
type Account struct {
	storage   AccountStorage
	email     Email
	tokens    TokenService
	jwt       Jwt
	cfg       *config.Public
	sanitizer *bluemonday.Policy
}

func NewAccount(storage AccountStorage, email Email, tokens TokenService, jwt Jwt, cfg *config.Public) *Account {
	return &Account{
		storage:   storage,
		email:     email,
		tokens:    tokens,
		jwt:       jwt,
		cfg:       cfg,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Signup registers a new account. The row is created inactive and an
// activation email is sent. If the email already belongs to an inactive
// account, no duplicate row is created and the caller is pointed at the
// resend flow via *errors.AccountPending.
func (a *Account) Signup(email, password, passwordConfirm string) error {
	email = normalizeEmail(email)

	if err := a.email.IsCorrect(email); err != nil {
		return err
	}
	if err := a.validatePassword(password, passwordConfirm); err != nil {
		return err
	}

	existing, err := a.storage.User(email)
	if err == nil {
		if existing.Active {
			return &errors.ErrorWithStatusCode{Message: "Email already registered", StatusCode: http.StatusBadRequest}
		}
		return &errors.AccountPending{Email: existing.Email}
	}
	if !isNotFound(err) {
		return err
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Log.Error("failed to hash password", "error", err)
		return err
	}

	id, err := a.storage.SaveUser(domain.User{Email: email, PassHash: string(passHash)})
	if err != nil {
		return err
	}

	user, err := a.storage.UserById(id)
	if err != nil {
		return err
	}

	return a.sendActivationEmail(user)
}

// Activate handles the emailed activation link. Verification is a pure
// recomputation, so clicking the same link twice is harmless.
func (a *Account) Activate(uidB64, tok string) (ActivationResult, error) {
	user, err := a.userFromUid(uidB64)
	if err != nil {
		return ActivationResult{Status: ActivationBadLink}, nil
	}

	if user.Active {
		return ActivationResult{Status: ActivationAlreadyActive, Email: user.Email}, nil
	}

	if !a.tokens.Verify(user, tok, token.PurposeActivate) {
		return ActivationResult{Status: ActivationBadToken, Email: user.Email}, nil
	}

	if err := a.storage.Activate(user.Id); err != nil {
		return ActivationResult{}, err
	}
	logger.Log.Info("account activated", "user_id", user.Id)
	return ActivationResult{Status: ActivationOk, Email: user.Email}, nil
}

// ActivationTarget resolves the email key of the resend-activation page.
// Undecodable keys and unknown emails are both a 404.
func (a *Account) ActivationTarget(emailB64 string) (domain.User, error) {
	email, err := utils.DecodeSegment(emailB64)
	if err != nil {
		return domain.User{}, &errors.ErrorWithStatusCode{Message: "Invalid link or user not found", StatusCode: http.StatusNotFound}
	}

	user, err := a.storage.User(normalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return domain.User{}, &errors.ErrorWithStatusCode{Message: "Invalid link or user not found", StatusCode: http.StatusNotFound}
		}
		return domain.User{}, err
	}
	return user, nil
}

// ResendActivation mints a fresh token for an inactive account and sends a
// new activation email. Within the same day bucket the fresh token equals
// the previous one; either way older tokens stay verifiable until the
// window closes or the account state changes.
func (a *Account) ResendActivation(emailB64 string) (domain.User, error) {
	user, err := a.ActivationTarget(emailB64)
	if err != nil {
		return domain.User{}, err
	}
	if user.Active {
		return user, nil
	}

	if err := a.sendActivationEmail(user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Login checks credentials and returns a session token. Unknown email and
// wrong password share one message so accounts can't be enumerated here;
// a correct password against an inactive account gets its own message,
// since signup already discloses that the account exists.
func (a *Account) Login(email, password string) (string, error) {
	email = normalizeEmail(email)

	if err := a.email.IsCorrect(email); err != nil {
		return "", err
	}

	user, err := a.storage.User(email)
	if err != nil {
		if isNotFound(err) {
			return "", errInvalidCredentials()
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PassHash), []byte(password)); err != nil {
		logger.Log.Debug("password verification failed", "user_id", user.Id)
		return "", errInvalidCredentials()
	}

	if !user.Active {
		return "", &errors.ErrorWithStatusCode{
			Message:    "Account not activated. Check your email for the activation link",
			StatusCode: http.StatusForbidden,
		}
	}

	// Recording the login also invalidates outstanding reset tokens,
	// since last_login is part of their fingerprint.
	if err := a.storage.UpdateLastLogin(user.Id, time.Now().UTC()); err != nil {
		logger.Log.Error("failed to record login time", "user_id", user.Id, "error", err)
	}

	sessionToken, err := a.jwt.NewToken(user)
	if err != nil {
		logger.Log.Error("failed to create session token", "user_id", user.Id, "error", err)
		return "", err
	}

	return sessionToken, nil
}

// RequestPasswordReset emails a reset link if an active account exists for
// the address. The caller gets nil either way: the response must not reveal
// whether the email is registered.
func (a *Account) RequestPasswordReset(email string) error {
	email = normalizeEmail(email)

	if err := a.email.IsCorrect(email); err != nil {
		return err
	}

	user, err := a.storage.User(email)
	if err != nil {
		if !isNotFound(err) {
			logger.Log.Error("password reset lookup failed", "error", err)
		}
		return nil
	}
	if !user.Active {
		return nil
	}

	tok := a.tokens.Mint(user, token.PurposeReset)
	link := fmt.Sprintf("%s/v1/auth/reset/%s/%s", a.cfg.BaseURL, utils.EncodeSegment(strconv.FormatInt(user.Id, 10)), tok)

	body := fmt.Sprintf(`Hello,

You requested a password reset for your Growplant account.

Follow the link below to choose a new password. The link is valid for %d days:

%s

If you did not request this, please ignore this email.
`, a.cfg.TokenTTLDays, link)

	if err := a.email.Send(user.Email, "Reset your Growplant password", body); err != nil {
		// Swallowed so the response stays identical to the unknown-email case.
		logger.Log.Error("failed to send reset email", "user_id", user.Id, "error", err)
	}
	return nil
}

// CheckResetLink reports whether a reset link is still usable, without
// consuming it. Used by the GET that shows the new-password form.
func (a *Account) CheckResetLink(uidB64, tok string) error {
	user, err := a.userFromUid(uidB64)
	if err != nil || !a.tokens.Verify(user, tok, token.PurposeReset) {
		return errResetLinkInvalid()
	}
	return nil
}

// ConfirmPasswordReset sets a new password. The stored hash changes, so the
// token that authorized this reset is dead immediately afterwards.
func (a *Account) ConfirmPasswordReset(uidB64, tok, newPassword, passwordConfirm string) error {
	user, err := a.userFromUid(uidB64)
	if err != nil || !a.tokens.Verify(user, tok, token.PurposeReset) {
		return errResetLinkInvalid()
	}

	if err := a.validatePassword(newPassword, passwordConfirm); err != nil {
		return err
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		logger.Log.Error("failed to hash password", "error", err)
		return err
	}

	if err := a.storage.UpdatePassword(user.Id, string(passHash)); err != nil {
		return err
	}
	logger.Log.Info("password reset completed", "user_id", user.Id)
	return nil
}

func (a *Account) Profile(id domain.UserId) (domain.User, error) {
	return a.storage.UserById(id)
}

// UpdateProfile stores the editable profile fields. Free-text names are
// stripped of any markup before they hit the database.
func (a *Account) UpdateProfile(id domain.UserId, profile domain.Profile) (domain.User, error) {
	profile.FirstName = strings.TrimSpace(a.sanitizer.Sanitize(profile.FirstName))
	profile.LastName = strings.TrimSpace(a.sanitizer.Sanitize(profile.LastName))

	const maxNameLen = 150
	if len(profile.FirstName) > maxNameLen || len(profile.LastName) > maxNameLen {
		return domain.User{}, &errors.ErrorWithStatusCode{Message: "Name is too long", StatusCode: http.StatusBadRequest}
	}

	if err := a.storage.UpdateProfile(id, profile); err != nil {
		return domain.User{}, err
	}
	return a.storage.UserById(id)
}

// sendActivationEmail mints an activation token for the user's current
// state and emails the link carrying the encoded id and the token.
func (a *Account) sendActivationEmail(user domain.User) error {
	tok := a.tokens.Mint(user, token.PurposeActivate)
	link := fmt.Sprintf("%s/v1/auth/activate/%s/%s", a.cfg.BaseURL, utils.EncodeSegment(strconv.FormatInt(user.Id, 10)), tok)

	body := fmt.Sprintf(`Hello,

Welcome to Growplant. Activate your account by following the link below.
The link is valid for %d days:

%s

If you did not sign up, please ignore this email.
`, a.cfg.TokenTTLDays, link)

	if err := a.email.Send(user.Email, "Activate your Growplant account", body); err != nil {
		logger.Log.Error("failed to send activation email", "user_id", user.Id, "error", err)
		return err
	}
	return nil
}

// userFromUid decodes the base64 id segment of a link and loads the user.
func (a *Account) userFromUid(uidB64 string) (domain.User, error) {
	raw, err := utils.DecodeSegment(uidB64)
	if err != nil {
		return domain.User{}, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.User{}, &errors.ErrorWithStatusCode{Message: "Malformed identifier", StatusCode: http.StatusBadRequest}
	}
	return a.storage.UserById(id)
}

func (a *Account) validatePassword(password, passwordConfirm string) error {
	if len(password) < a.cfg.MinPasswordLen {
		return &errors.ErrorWithStatusCode{
			Message:    fmt.Sprintf("Password must be at least %d characters", a.cfg.MinPasswordLen),
			StatusCode: http.StatusBadRequest,
		}
	}
	if password != passwordConfirm {
		return &errors.ErrorWithStatusCode{Message: "Passwords do not match", StatusCode: http.StatusBadRequest}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isNotFound(err error) bool {
	e, ok := err.(*errors.ErrorWithStatusCode)
	return ok && e.StatusCode == http.StatusNotFound
}

func errInvalidCredentials() error {
	return &errors.ErrorWithStatusCode{Message: "Invalid credentials", StatusCode: http.StatusUnauthorized}
}

func errResetLinkInvalid() error {
	return &errors.ErrorWithStatusCode{Message: "The reset link is invalid or has expired", StatusCode: http.StatusBadRequest}
}
