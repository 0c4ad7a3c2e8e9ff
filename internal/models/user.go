package models

import (
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	RoleCustomer   = "customer"
	RoleStaff      = "staff"
	RoleHotelOwner = "hotel_owner"
	RoleAdmin      = "admin"
)

// ValidRole reports whether role is a known marketplace role.
func ValidRole(role string) bool {
	switch role {
	case RoleCustomer, RoleStaff, RoleHotelOwner, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// IsStaff reports whether the user can handle trip requests.
func (u User) IsStaff() bool {
	return u.Role == RoleStaff || u.Role == RoleAdmin
}

type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int
	Role   string
	System bool
}

// SystemActor is used for transitions driven by the payment subsystem.
var SystemActor = Actor{Role: "system", System: true}

func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
