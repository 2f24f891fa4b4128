package models

// User is the signed-in identity. The password never leaves the users table.
type User struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}
