package domain

import "time"

// User is an account allowed to call the API.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
