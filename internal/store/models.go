package store

import "time"

type Account struct {
	ID          string `gorm:"primaryKey;size:64"`
	Username    string `gorm:"size:64;not null"`
	Secret      string `gorm:"size:128;index"`
	Rating      int    `gorm:"not null;default:1000"`
	GamesPlayed int    `gorm:"not null;default:0"`
	RankedGames int    `gorm:"not null;default:0"`
	TotalScore  int64  `gorm:"not null;default:0"`
	BestScore   int    `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Friendship rows are written by the social service; a link counts once accepted.
type Friendship struct {
	AccountID string `gorm:"primaryKey;size:64"`
	FriendID  string `gorm:"primaryKey;size:64"`
	Accepted  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

type Notification struct {
	ID           uint   `gorm:"primaryKey"`
	AccountID    string `gorm:"size:64;index;not null"`
	Kind         string `gorm:"size:32;not null"`
	From         string `gorm:"size:64"`
	FromUsername string `gorm:"size:64"`
	PartyCode    string `gorm:"size:16"`
	Read         bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
}

const KindPartyInvite = "partyInvite"

// Invite is a party invitation waiting for an offline account.
type Invite struct {
	AccountID    string
	From         string
	FromUsername string
	PartyCode    string
	At           time.Time
}

// MatchResult is what a finished match writes back to one profile.
type MatchResult struct {
	Ranked    bool
	NewRating int
	Score     int
}
