package errors

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

// AccountPending is returned by signup when the email already belongs to an
// account that was created but never activated. The handler turns it into a
// redirect to the resend-activation flow instead of a plain error.
type AccountPending struct {
	Email string
}

func (e *AccountPending) Error() string {
	return "Account is pending activation"
}
