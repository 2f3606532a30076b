package models

import "time"

// Follow is a directed edge from a follower to a followed author.
// The pair is unique; self-follows are rejected in the view layer.
type Follow struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;uniqueIndex:idx_follows_pair;not null" json:"user_id"`
	AuthorID  uint      `gorm:"index;uniqueIndex:idx_follows_pair;not null" json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Author    User      `gorm:"foreignKey:AuthorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}
