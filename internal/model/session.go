package model

import "time"

type Session struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Owner     string    `gorm:"size:128;not null;index" json:"owner"`
	Title     string    `gorm:"size:128;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }
