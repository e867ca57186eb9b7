package domain

import "time"

type (
	UserId = int64
	Email  = string
)

// User is the persisted account record. Email is the sole login
// identifier, stored lower-cased. An account starts inactive and becomes
// active exactly once, through the emailed activation link.
type User struct {
	Id        UserId
	Email     Email
	PassHash  string
	FirstName string
	LastName  string
	Active    bool
	Staff     bool
	Superuser bool
	CreatedAt time.Time
	LastLogin time.Time // zero until the first successful login
}

// Profile holds the user-editable part of the account.
type Profile struct {
	FirstName string
	LastName  string
}
