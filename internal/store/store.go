package store

import (
	"context"
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("not found")

// Store reaches profiles, the social graph and notifications in postgres.
type Store struct {
	db            *gorm.DB
	defaultRating int
}

func Open(dsn string, defaultRating int) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return New(db, defaultRating), nil
}

func New(db *gorm.DB, defaultRating int) *Store {
	return &Store{db: db, defaultRating: defaultRating}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Account{}, &Friendship{}, &Notification{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Rating(ctx context.Context, accountID string) (int, error) {
	var acct Account
	err := s.db.WithContext(ctx).Select("rating").First(&acct, "id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.defaultRating, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Rating, nil
}

func (s *Store) AccountBySecret(ctx context.Context, secret string) (Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).First(&acct, "secret = ?", secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrNotFound
	}
	return acct, err
}

func (s *Store) ApplyResult(ctx context.Context, accountID string, r MatchResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct := Account{ID: accountID, Username: accountID, Rating: s.defaultRating}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"games_played": gorm.Expr("games_played + 1"),
			"total_score":  gorm.Expr("total_score + ?", r.Score),
			"best_score":   gorm.Expr("GREATEST(best_score, ?)", r.Score),
		}
		if r.Ranked {
			updates["rating"] = r.NewRating
			updates["ranked_games"] = gorm.Expr("ranked_games + 1")
		}
		return tx.Model(&Account{}).Where("id = ?", accountID).Updates(updates).Error
	})
}

func (s *Store) AreLinked(ctx context.Context, a, b string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Friendship{}).
		Where("accepted = ?", true).
		Where("(account_id = ? AND friend_id = ?) OR (account_id = ? AND friend_id = ?)", a, b, b, a).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) AddInvite(ctx context.Context, inv Invite) error {
	return s.db.WithContext(ctx).Create(&Notification{
		AccountID:    inv.AccountID,
		Kind:         KindPartyInvite,
		From:         inv.From,
		FromUsername: inv.FromUsername,
		PartyCode:    inv.PartyCode,
		CreatedAt:    inv.At,
	}).Error
}

// TakeInvites returns unread invites for accountID and marks them read.
func (s *Store) TakeInvites(ctx context.Context, accountID string) ([]Invite, error) {
	var rows []Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ? AND kind = ? AND read = ?", accountID, KindPartyInvite, false).
			Order("created_at").
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uint, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		return tx.Model(&Notification{}).Where("id IN ?", ids).Update("read", true).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]Invite, 0, len(rows))
	for _, r := range rows {
		out = append(out, Invite{
			AccountID:    r.AccountID,
			From:         r.From,
			FromUsername: r.FromUsername,
			PartyCode:    r.PartyCode,
			At:           r.CreatedAt,
		})
	}
	return out, nil
}
