// Package models defines the persistence-layer row types shared by
// repositories and services.
package models

import "time"

// UserRecord is one row of the users table as stored: level-1 columns hold
// plaintext, "_encrypted"-suffixed columns hold base64 ciphertext.
type UserRecord struct {
	ID        string
	Columns   map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserSummary is the reduced-information row returned by list queries. It
// deliberately carries level-1 columns only; encrypted columns never appear
// in listings, not even as ciphertext.
type UserSummary struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email"`
	FirstName *string   `json:"first_name"`
	LastName  *string   `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
