package domain

import "context"

// User is owned by the identity subsystem. The chat core only reads it.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	IsActive  bool   `json:"isActive"`
}

// PublicProfile is the subset of User fields shown to other users.
type PublicProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// Profile returns the public view of u.
func (u *User) Profile() PublicProfile {
	return PublicProfile{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Avatar:    u.Avatar,
	}
}

// UserDirectory looks users up by id. It is the narrow view of the identity
// subsystem the credential verifier needs.
type UserDirectory interface {
	FindUserByID(ctx context.Context, id string) (*User, error)
}
