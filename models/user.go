package models

import "time"

// User is a local account bound to an identity provider subject
type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	KindeID   string    `json:"kinde_id" db:"kinde_id"` // provider subject (sub)
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewUser creates a User from the values derived from verified claims
func NewUser(username, email, firstName, lastName, subject string) *User {
	return &User{
		Username:  username,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		KindeID:   subject,
	}
}

// Profile is the public view of a user returned by /api/profile
type Profile struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Profile returns the public view of the user
func (u *User) Profile() Profile {
	return Profile{
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}
