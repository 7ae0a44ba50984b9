package domain

import "time"

// Session binds a browser cookie to a user and the user's encrypted Discord
// credentials. Token fields always hold hex ciphertext; each one is paired with
// the nonce it was sealed under.
type Session struct {
	ID                string    `gorm:"primaryKey;size:64" json:"id"`
	UserID            string    `gorm:"index;not null;size:32" json:"user_id"`
	AccessToken       string    `gorm:"not null" json:"-"`
	AccessTokenNonce  string    `gorm:"size:24;not null" json:"-"`
	RefreshToken      string    `gorm:"not null" json:"-"`
	RefreshTokenNonce string    `gorm:"size:24;not null" json:"-"`
	ExpiresAt         time.Time `gorm:"index;not null" json:"expires_at"`
}

func (Session) TableName() string { return "sessions" }

// Valid reports whether the access token behind the session is still live.
func (s *Session) Valid(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
