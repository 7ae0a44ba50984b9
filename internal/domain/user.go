package domain

import "time"

type User struct {
	ID                string     `gorm:"primaryKey;size:32" json:"id"`
	Username          string     `gorm:"size:64;not null" json:"username"`
	Discriminator     string     `gorm:"size:8;not null" json:"discriminator"`
	Avatar            string     `gorm:"size:128" json:"avatar"`
	IsAdmin           bool       `gorm:"not null" json:"is_admin"`
	JoinedAt          time.Time  `gorm:"not null" json:"joined_at"`
	DailyQuestions    int        `gorm:"not null" json:"daily_questions"`
	LastQuestionReset *time.Time `json:"last_question_reset,omitempty"`
}

func (User) TableName() string { return "users" }

const discordAvatarURL = "https://cdn.discordapp.com/avatars"

// AvatarURL returns the CDN location of the user's avatar; animated hashes
// carry an "a_" prefix and are served as gif.
func (u *User) AvatarURL() string {
	if u.Avatar == "" {
		return ""
	}
	ext := "png"
	if len(u.Avatar) > 2 && u.Avatar[:2] == "a_" {
		ext = "gif"
	}
	return discordAvatarURL + "/" + u.ID + "/" + u.Avatar + "." + ext
}
