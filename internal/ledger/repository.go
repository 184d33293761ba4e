package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository appends and queries rows of the audit ledger. It is read-only
// history for tooling outside this system's scope: nothing in the peripheral
// controller consults it to make a decision.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Sum(ctx context.Context, kind EntryKind, since time.Time) (int, error)
}

type repo struct {
	db *gorm.DB
}

// NewRepository builds a Repository backed by db.
func NewRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

// Append inserts entry, stamping CreatedAt if unset.
func (r *repo) Append(ctx context.Context, entry *Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// Recent returns the most recent limit entries, newest first.
func (r *repo) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&entries).Error
	return entries, err
}

// Sum totals Amount across accepted entries of kind since the given time.
func (r *repo) Sum(ctx context.Context, kind EntryKind, since time.Time) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where("kind = ? AND accepted = ? AND created_at >= ?", kind, true, since).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// Migrate creates or updates the ledger schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}
