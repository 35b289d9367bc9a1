package domain

import "time"

// User is the profile record of an authenticated account. It is created on
// first sign-in (or sign-up) and its Role is changed only by the admin panel
// or by owner auto-escalation.
type User struct {
	UID       string    `json:"uid"        gorm:"column:uid;type:varchar(64);primaryKey"`
	Email     string    `json:"email"      gorm:"type:varchar(320);not null;uniqueIndex"`
	Name      *string   `json:"name,omitempty" gorm:"type:varchar(255)"`
	Role      Role      `json:"role"       gorm:"type:varchar(16);not null;default:'user';index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Credential *Credential `json:"-" gorm:"foreignKey:UID;references:UID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// DisplayName returns Name when set, otherwise the local part of the email.
func (u User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	for i := 0; i < len(u.Email); i++ {
		if u.Email[i] == '@' {
			return u.Email[:i]
		}
	}
	return u.Email
}

// Credential stores the password hash for a user. It belongs to the identity
// provider and is never serialized.
type Credential struct {
	UID          string    `gorm:"column:uid;type:varchar(64);primaryKey"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the database table name for Credential.
func (Credential) TableName() string { return "credentials" }

// RevokedToken marks a session token id as signed out until it would have
// expired anyway.
type RevokedToken struct {
	JTI       string    `gorm:"column:jti;type:char(36);primaryKey"`
	UID       string    `gorm:"column:uid;type:varchar(64);not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for RevokedToken.
func (RevokedToken) TableName() string { return "revoked_tokens" }

// Actor is the authenticated caller of an operation. A nil *Actor means an
// anonymous caller.
type Actor struct {
	UserID string
	Email  string
	Role   Role
}
