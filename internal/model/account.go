package model

import "time"

// Account is an enrolled app user, keyed by mobile number.
type Account struct {
	ID        int64      `json:"id"`
	Phone     string     `json:"phone"`
	PINHash   string     `json:"-"`
	Role      Role       `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
