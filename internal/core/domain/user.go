package domain

import "github.com/shopspring/decimal"

type User struct {
	ID       int64
	Username string
	Email    string
	Phone    string
	Bonus    decimal.Decimal
	Role     Role
	IsStaff  bool
}

type ContactInfo struct {
	Email string
	Phone string
}

// MissingFields lists the contact fields a checkout still needs, in display order.
func (c ContactInfo) MissingFields() []string {
	var missing []string
	if c.Email == "" {
		missing = append(missing, "email")
	}
	if c.Phone == "" {
		missing = append(missing, "phone number")
	}
	return missing
}

func (u User) Principal() Principal {
	return Principal{UserID: u.ID, Role: u.Role, IsStaff: u.IsStaff}
}
