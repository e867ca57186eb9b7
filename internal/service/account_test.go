package service

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/growplant/growplant/internal/config"
	"github.com/growplant/growplant/internal/domain"
	internal_errors "github.com/growplant/growplant/internal/errors"
	"github.com/growplant/growplant/internal/token"
	"github.com/growplant/growplant/internal/utils"
)

// --- Mocks ---

type MockAccountStorage struct {
	SaveUserFunc        func(user domain.User) (domain.UserId, error)
	UserFunc            func(email domain.Email) (domain.User, error)
	UserByIdFunc        func(id domain.UserId) (domain.User, error)
	ActivateFunc        func(id domain.UserId) error
	UpdatePasswordFunc  func(id domain.UserId, passHash string) error
	UpdateProfileFunc   func(id domain.UserId, profile domain.Profile) error
	UpdateLastLoginFunc func(id domain.UserId, at time.Time) error
}

func notFound() error {
	return &internal_errors.ErrorWithStatusCode{Message: "User not found", StatusCode: http.StatusNotFound}
}

func (m *MockAccountStorage) SaveUser(user domain.User) (domain.UserId, error) {
	if m.SaveUserFunc != nil {
		return m.SaveUserFunc(user)
	}
	return 1, nil
}

func (m *MockAccountStorage) User(email domain.Email) (domain.User, error) {
	if m.UserFunc != nil {
		return m.UserFunc(email)
	}
	return domain.User{}, notFound()
}

func (m *MockAccountStorage) UserById(id domain.UserId) (domain.User, error) {
	if m.UserByIdFunc != nil {
		return m.UserByIdFunc(id)
	}
	return domain.User{}, notFound()
}

func (m *MockAccountStorage) Activate(id domain.UserId) error {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(id)
	}
	return nil
}

func (m *MockAccountStorage) UpdatePassword(id domain.UserId, passHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(id, passHash)
	}
	return nil
}

func (m *MockAccountStorage) UpdateProfile(id domain.UserId, profile domain.Profile) error {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(id, profile)
	}
	return nil
}

func (m *MockAccountStorage) UpdateLastLogin(id domain.UserId, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(id, at)
	}
	return nil
}

type MockEmail struct {
	SendFunc      func(recipientEmail, subject, body string) error
	IsCorrectFunc func(email domain.Email) error
}

func (m *MockEmail) Send(recipientEmail, subject, body string) error {
	if m.SendFunc != nil {
		return m.SendFunc(recipientEmail, subject, body)
	}
	return nil
}

func (m *MockEmail) IsCorrect(email domain.Email) error {
	if m.IsCorrectFunc != nil {
		return m.IsCorrectFunc(email)
	}
	if !strings.Contains(email, "@") {
		return &internal_errors.ErrorWithStatusCode{Message: "Invalid email address", StatusCode: http.StatusBadRequest}
	}
	return nil
}

type MockJwt struct {
	NewTokenFunc func(user domain.User) (string, error)
}

func (m *MockJwt) NewToken(user domain.User) (string, error) {
	if m.NewTokenFunc != nil {
		return m.NewTokenFunc(user)
	}
	return "test_token", nil
}

// --- Fixtures ---

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Public {
	return &config.Public{
		BaseURL:        "http://localhost:8080",
		TokenTTLDays:   3,
		MinPasswordLen: 8,
	}
}

// newTestAccount wires an Account with mocks and a real token service on a
// fixed clock, so link tokens produced by one operation verify in another.
func newTestAccount(storage *MockAccountStorage, mail *MockEmail, jwt *MockJwt) (*Account, *token.Service) {
	tokens := token.NewWithClock("test-secret", 3, func() time.Time { return testTime })
	return NewAccount(storage, mail, tokens, jwt, testConfig()), tokens
}

func uidSegment(id domain.UserId) string {
	return utils.EncodeSegment(strconv.FormatInt(id, 10))
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return string(hash)
}

// --- Tests ---

func TestSignup(t *testing.T) {
	t.Run("fresh email creates inactive user and sends one email", func(t *testing.T) {
		storage := &MockAccountStorage{}
		mail := &MockEmail{}
		account, tokens := newTestAccount(storage, mail, &MockJwt{})

		var saved domain.User
		saveCalls := 0
		storage.SaveUserFunc = func(user domain.User) (domain.UserId, error) {
			saveCalls++
			saved = user
			saved.Id = 7
			return 7, nil
		}
		storage.UserByIdFunc = func(id domain.UserId) (domain.User, error) {
			require.EqualValues(t, 7, id)
			return saved, nil
		}

		sendCalls := 0
		var sentBody string
		mail.SendFunc = func(recipientEmail, subject, body string) error {
			sendCalls++
			assert.Equal(t, "gardener@example.com", recipientEmail)
			assert.Equal(t, "Activate your Growplant account", subject)
			sentBody = body
			return nil
		}

		err := account.Signup("Gardener@Example.com ", "longenough", "longenough")
		require.NoError(t, err)

		assert.Equal(t, 1, saveCalls)
		assert.Equal(t, 1, sendCalls)
		assert.Equal(t, "gardener@example.com", saved.Email)
		assert.False(t, saved.Active)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(saved.PassHash), []byte("longenough")))

		// The emailed link must carry the encoded id and a verifiable token.
		assert.Contains(t, sentBody, "/v1/auth/activate/"+uidSegment(7)+"/")
		parts := strings.Split(sentBody, "/v1/auth/activate/"+uidSegment(7)+"/")
		require.Len(t, parts, 2)
		tok := strings.Fields(parts[1])[0]
		assert.True(t, tokens.Verify(saved, tok, token.PurposeActivate))
	})

	t.Run("active account on same email is a validation error", func(t *testing.T) {
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) {
				return domain.User{Id: 1, Email: email, Active: true}, nil
			},
		}
		saveCalled, sendCalled := false, false
		storage.SaveUserFunc = func(user domain.User) (domain.UserId, error) { saveCalled = true; return 0, nil }
		mail := &MockEmail{SendFunc: func(_, _, _ string) error { sendCalled = true; return nil }}
		account, _ := newTestAccount(storage, mail, &MockJwt{})

		err := account.Signup("gardener@example.com", "longenough", "longenough")

		var statusErr *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
		assert.False(t, saveCalled)
		assert.False(t, sendCalled)
	})

	t.Run("inactive account on same email routes to resend", func(t *testing.T) {
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) {
				return domain.User{Id: 1, Email: email, Active: false}, nil
			},
		}
		saveCalled, sendCalled := false, false
		storage.SaveUserFunc = func(user domain.User) (domain.UserId, error) { saveCalled = true; return 0, nil }
		mail := &MockEmail{SendFunc: func(_, _, _ string) error { sendCalled = true; return nil }}
		account, _ := newTestAccount(storage, mail, &MockJwt{})

		err := account.Signup("gardener@example.com", "longenough", "longenough")

		var pending *internal_errors.AccountPending
		require.ErrorAs(t, err, &pending)
		assert.Equal(t, "gardener@example.com", pending.Email)
		assert.False(t, saveCalled)
		assert.False(t, sendCalled)
	})

	t.Run("password mismatch rejected before any side effect", func(t *testing.T) {
		storage := &MockAccountStorage{}
		account, _ := newTestAccount(storage, &MockEmail{}, &MockJwt{})

		err := account.Signup("gardener@example.com", "longenough", "different")

		var statusErr *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	})

	t.Run("short password rejected", func(t *testing.T) {
		account, _ := newTestAccount(&MockAccountStorage{}, &MockEmail{}, &MockJwt{})
		err := account.Signup("gardener@example.com", "short", "short")
		require.Error(t, err)
	})

	t.Run("malformed email rejected", func(t *testing.T) {
		account, _ := newTestAccount(&MockAccountStorage{}, &MockEmail{}, &MockJwt{})
		err := account.Signup("not-an-email", "longenough", "longenough")
		require.Error(t, err)
	})
}

func TestActivate(t *testing.T) {
	inactive := domain.User{Id: 7, Email: "gardener@example.com", Active: false}

	t.Run("valid token activates the account", func(t *testing.T) {
		activated := false
		storage := &MockAccountStorage{
			UserByIdFunc: func(id domain.UserId) (domain.User, error) { return inactive, nil },
			ActivateFunc: func(id domain.UserId) error {
				assert.EqualValues(t, 7, id)
				activated = true
				return nil
			},
		}
		account, tokens := newTestAccount(storage, &MockEmail{}, &MockJwt{})
		tok := tokens.Mint(inactive, token.PurposeActivate)

		result, err := account.Activate(uidSegment(7), tok)
		require.NoError(t, err)
		assert.Equal(t, ActivationOk, result.Status)
		assert.Equal(t, inactive.Email, result.Email)
		assert.True(t, activated)
	})

	t.Run("invalid token keeps user inactive and names the email", func(t *testing.T) {
		activated := false
		storage := &MockAccountStorage{
			UserByIdFunc: func(id domain.UserId) (domain.User, error) { return inactive, nil },
			ActivateFunc: func(id domain.UserId) error { activated = true; return nil },
		}
		account, _ := newTestAccount(storage, &MockEmail{}, &MockJwt{})

		result, err := account.Activate(uidSegment(7), "bogus-token")
		require.NoError(t, err)
		assert.Equal(t, ActivationBadToken, result.Status)
		assert.Equal(t, inactive.Email, result.Email)
		assert.False(t, activated)
	})

	t.Run("token minted before activation no longer verifies", func(t *testing.T) {
		storage := &MockAccountStorage{}
		account, tokens := newTestAccount(storage, &MockEmail{}, &MockJwt{})
		tok := tokens.Mint(inactive, token.PurposeActivate)

		// User has meanwhile been activated: the account reports already
		// active rather than re-verifying the stale token.
		active := inactive
		active.Active = true
		storage.UserByIdFunc = func(id domain.UserId) (domain.User, error) { return active, nil }

		result, err := account.Activate(uidSegment(7), tok)
		require.NoError(t, err)
		assert.Equal(t, ActivationAlreadyActive, result.Status)
	})

	t.Run("undecodable uid", func(t *testing.T) {
		account, _ := newTestAccount(&MockAccountStorage{}, &MockEmail{}, &MockJwt{})
		result, err := account.Activate("???", "whatever")
		require.NoError(t, err)
		assert.Equal(t, ActivationBadLink, result.Status)
	})

	t.Run("unknown user", func(t *testing.T) {
		account, _ := newTestAccount(&MockAccountStorage{}, &MockEmail{}, &MockJwt{})
		result, err := account.Activate(uidSegment(404), "whatever")
		require.NoError(t, err)
		assert.Equal(t, ActivationBadLink, result.Status)
	})
}

func TestResendActivation(t *testing.T) {
	inactive := domain.User{Id: 7, Email: "gardener@example.com", Active: false}
	emailB64 := utils.EncodeSegment(inactive.Email)

	t.Run("sends a fresh valid token", func(t *testing.T) {
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) {
				assert.Equal(t, inactive.Email, email)
				return inactive, nil
			},
		}
		mail := &MockEmail{}
		sent := 0
		mail.SendFunc = func(recipientEmail, subject, body string) error {
			sent++
			assert.Equal(t, inactive.Email, recipientEmail)
			return nil
		}
		account, _ := newTestAccount(storage, mail, &MockJwt{})

		user, err := account.ResendActivation(emailB64)
		require.NoError(t, err)
		assert.False(t, user.Active)
		assert.Equal(t, 1, sent)
	})

	t.Run("already active user gets no email", func(t *testing.T) {
		active := inactive
		active.Active = true
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) { return active, nil },
		}
		sent := false
		mail := &MockEmail{SendFunc: func(_, _, _ string) error { sent = true; return nil }}
		account, _ := newTestAccount(storage, mail, &MockJwt{})

		user, err := account.ResendActivation(emailB64)
		require.NoError(t, err)
		assert.True(t, user.Active)
		assert.False(t, sent)
	})

	t.Run("unknown email is a 404", func(t *testing.T) {
		account, _ := newTestAccount(&MockAccountStorage{}, &MockEmail{}, &MockJwt{})
		_, err := account.ResendActivation(utils.EncodeSegment("nobody@example.com"))

		var statusErr *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	})

	t.Run("malformed key is a 404", func(t *testing.T) {
		account, _ := newTestAccount(&MockAccountStorage{}, &MockEmail{}, &MockJwt{})
		_, err := account.ResendActivation("%%%not-base64%%%")

		var statusErr *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	})
}

func TestLogin(t *testing.T) {
	passHash := ""
	activeUser := func(t *testing.T) domain.User {
		if passHash == "" {
			passHash = mustHash(t, "correct-password")
		}
		return domain.User{Id: 7, Email: "gardener@example.com", PassHash: passHash, Active: true}
	}

	t.Run("correct credentials on active account", func(t *testing.T) {
		user := activeUser(t)
		loginRecorded := false
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) { return user, nil },
			UpdateLastLoginFunc: func(id domain.UserId, at time.Time) error {
				assert.EqualValues(t, 7, id)
				loginRecorded = true
				return nil
			},
		}
		jwt := &MockJwt{NewTokenFunc: func(u domain.User) (string, error) {
			assert.Equal(t, user.Id, u.Id)
			return "session-token", nil
		}}
		account, _ := newTestAccount(storage, &MockEmail{}, jwt)

		tok, err := account.Login("Gardener@Example.com", "correct-password")
		require.NoError(t, err)
		assert.Equal(t, "session-token", tok)
		assert.True(t, loginRecorded)
	})

	t.Run("inactive account with correct password is told so", func(t *testing.T) {
		user := activeUser(t)
		user.Active = false
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) { return user, nil },
		}
		account, _ := newTestAccount(storage, &MockEmail{}, &MockJwt{})

		_, err := account.Login(user.Email, "correct-password")

		var statusErr *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
		assert.Contains(t, statusErr.Message, "not activated")
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		user := activeUser(t)
		knownStorage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) { return user, nil },
		}
		account, _ := newTestAccount(knownStorage, &MockEmail{}, &MockJwt{})
		_, errWrongPass := account.Login(user.Email, "wrong-password")

		account, _ = newTestAccount(&MockAccountStorage{}, &MockEmail{}, &MockJwt{})
		_, errUnknown := account.Login("nobody@example.com", "whatever")

		var e1, e2 *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, errWrongPass, &e1)
		require.ErrorAs(t, errUnknown, &e2)
		assert.Equal(t, e1.StatusCode, e2.StatusCode)
		assert.Equal(t, e1.Message, e2.Message)
		assert.Equal(t, http.StatusUnauthorized, e1.StatusCode)
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		mockErr := errors.New("db down")
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) { return domain.User{}, mockErr },
		}
		account, _ := newTestAccount(storage, &MockEmail{}, &MockJwt{})

		_, err := account.Login("gardener@example.com", "whatever")
		assert.ErrorIs(t, err, mockErr)
	})
}

func TestPasswordReset(t *testing.T) {
	activeUser := domain.User{
		Id: 7, Email: "gardener@example.com", Active: true,
		PassHash: "$2a$10$oldhash", LastLogin: testTime.Add(-24 * time.Hour),
	}

	t.Run("existing active account gets a reset email", func(t *testing.T) {
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) { return activeUser, nil },
		}
		mail := &MockEmail{}
		var sentBody string
		mail.SendFunc = func(recipientEmail, subject, body string) error {
			assert.Equal(t, activeUser.Email, recipientEmail)
			sentBody = body
			return nil
		}
		account, tokens := newTestAccount(storage, mail, &MockJwt{})

		require.NoError(t, account.RequestPasswordReset(activeUser.Email))

		require.Contains(t, sentBody, "/v1/auth/reset/"+uidSegment(7)+"/")
		parts := strings.Split(sentBody, "/v1/auth/reset/"+uidSegment(7)+"/")
		tok := strings.Fields(parts[1])[0]
		assert.True(t, tokens.Verify(activeUser, tok, token.PurposeReset))
	})

	t.Run("unknown email succeeds silently", func(t *testing.T) {
		sent := false
		mail := &MockEmail{SendFunc: func(_, _, _ string) error { sent = true; return nil }}
		account, _ := newTestAccount(&MockAccountStorage{}, mail, &MockJwt{})

		require.NoError(t, account.RequestPasswordReset("nobody@example.com"))
		assert.False(t, sent)
	})

	t.Run("inactive account gets no reset email", func(t *testing.T) {
		inactive := activeUser
		inactive.Active = false
		storage := &MockAccountStorage{
			UserFunc: func(email domain.Email) (domain.User, error) { return inactive, nil },
		}
		sent := false
		mail := &MockEmail{SendFunc: func(_, _, _ string) error { sent = true; return nil }}
		account, _ := newTestAccount(storage, mail, &MockJwt{})

		require.NoError(t, account.RequestPasswordReset(inactive.Email))
		assert.False(t, sent)
	})

	t.Run("confirm with valid token sets the new password", func(t *testing.T) {
		var newHash string
		storage := &MockAccountStorage{
			UserByIdFunc: func(id domain.UserId) (domain.User, error) { return activeUser, nil },
			UpdatePasswordFunc: func(id domain.UserId, passHash string) error {
				assert.EqualValues(t, 7, id)
				newHash = passHash
				return nil
			},
		}
		account, tokens := newTestAccount(storage, &MockEmail{}, &MockJwt{})
		tok := tokens.Mint(activeUser, token.PurposeReset)

		require.NoError(t, account.CheckResetLink(uidSegment(7), tok))
		err := account.ConfirmPasswordReset(uidSegment(7), tok, "new-password", "new-password")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(newHash), []byte("new-password")))
	})

	t.Run("token dies once the password changed", func(t *testing.T) {
		storage := &MockAccountStorage{
			UserByIdFunc: func(id domain.UserId) (domain.User, error) { return activeUser, nil },
		}
		account, tokens := newTestAccount(storage, &MockEmail{}, &MockJwt{})
		tok := tokens.Mint(activeUser, token.PurposeReset)

		changed := activeUser
		changed.PassHash = "$2a$10$newhash"
		storage.UserByIdFunc = func(id domain.UserId) (domain.User, error) { return changed, nil }

		err := account.ConfirmPasswordReset(uidSegment(7), tok, "new-password", "new-password")
		var statusErr *internal_errors.ErrorWithStatusCode
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	})

	t.Run("mismatched confirmation rejected without touching storage", func(t *testing.T) {
		updated := false
		storage := &MockAccountStorage{
			UserByIdFunc:       func(id domain.UserId) (domain.User, error) { return activeUser, nil },
			UpdatePasswordFunc: func(id domain.UserId, passHash string) error { updated = true; return nil },
		}
		account, tokens := newTestAccount(storage, &MockEmail{}, &MockJwt{})
		tok := tokens.Mint(activeUser, token.PurposeReset)

		err := account.ConfirmPasswordReset(uidSegment(7), tok, "new-password", "other")
		require.Error(t, err)
		assert.False(t, updated)
	})
}

func TestUpdateProfile(t *testing.T) {
	user := domain.User{Id: 7, Email: "gardener@example.com", Active: true}

	t.Run("markup is stripped from names", func(t *testing.T) {
		var stored domain.Profile
		storage := &MockAccountStorage{
			UpdateProfileFunc: func(id domain.UserId, profile domain.Profile) error {
				stored = profile
				return nil
			},
			UserByIdFunc: func(id domain.UserId) (domain.User, error) {
				u := user
				u.FirstName = stored.FirstName
				u.LastName = stored.LastName
				return u, nil
			},
		}
		account, _ := newTestAccount(storage, &MockEmail{}, &MockJwt{})

		updated, err := account.UpdateProfile(7, domain.Profile{
			FirstName: "<script>alert(1)</script>Maria",
			LastName:  "  Silva ",
		})
		require.NoError(t, err)
		assert.Equal(t, "Maria", updated.FirstName)
		assert.Equal(t, "Silva", updated.LastName)
	})

	t.Run("over-long name rejected", func(t *testing.T) {
		account, _ := newTestAccount(&MockAccountStorage{}, &MockEmail{}, &MockJwt{})
		_, err := account.UpdateProfile(7, domain.Profile{FirstName: strings.Repeat("a", 200)})
		require.Error(t, err)
	})
}
