package utils

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/growplant/growplant/internal/errors"
	"github.com/growplant/growplant/internal/logger"
)

func WriteErrorAndStatusCode(w http.ResponseWriter, err error) {
	if e, ok := err.(*errors.ErrorWithStatusCode); ok {
		http.Error(w, err.Error(), e.StatusCode)
		return
	}
	// default error is 500
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func DecodeValidate(r io.ReadCloser, body any) error {
	if err := json.NewDecoder(r).Decode(body); err != nil {
		logger.Log.Debug("invalid request body", "error", err)
		return &errors.ErrorWithStatusCode{Message: "Body is invalid json", StatusCode: 400}
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(body); err != nil {
		logger.Log.Debug("request body validation failed", "error", err)
		return &errors.ErrorWithStatusCode{Message: "Required fields missing", StatusCode: 400}
	}
	return nil
}

// EncodeSegment encodes a user identifier for use as a URL path segment in
// activation/reset links. Unpadded url-safe base64, matching what the link
// routes expect back.
func EncodeSegment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func DecodeSegment(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", &errors.ErrorWithStatusCode{Message: "Malformed identifier", StatusCode: 400}
	}
	return string(b), nil
}
