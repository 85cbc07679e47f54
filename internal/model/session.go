package model

import "time"

// SessionID is the primary key of the single session row.
const SessionID uint = 1

// Session is the only durable client-side state: the bearer token pair,
// the signed-in user and the floor the user locked the grid to.
type Session struct {
	ID           uint    `gorm:"primaryKey"`
	Token        string  `gorm:"type:text"`
	RefreshToken string  `gorm:"type:text"`
	Username     string  `gorm:"size:255"`
	LockedFloor  *string `gorm:"size:64"`
	UpdatedAt    time.Time
}
