package domain

import "time"

type Question struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Title     string    `gorm:"size:200;not null" json:"title"`
	Body      string    `gorm:"not null" json:"body"`
	Public    bool      `gorm:"not null" json:"public"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UserID    string    `gorm:"size:32;not null" json:"user_id"`
}

func (Question) TableName() string { return "questions" }

// Answer is unique per question.
type Answer struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Body       string    `gorm:"not null" json:"body"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UserID     string    `gorm:"size:32;not null" json:"user_id"`
	QuestionID string    `gorm:"size:64;not null;uniqueIndex" json:"question_id"`
}

func (Answer) TableName() string { return "answers" }

// AskedQuestion is a question as its author sees it, with the answer once
// one exists.
type AskedQuestion struct {
	Question
	Answered   bool    `json:"answered"`
	AnswerBody *string `json:"answer_body,omitempty"`
}

// PendingQuestion is an unanswered question with the author details an
// administrator needs to triage it.
type PendingQuestion struct {
	Question
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}
