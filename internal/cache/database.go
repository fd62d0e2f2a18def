package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/charlesng35/guildstats/pkg/errors"
)

const databaseBackend = "database"

// DatabaseStore implements Store on top of the primary SQL database. Every document type
// owns a table whose primary key column is `id`.
type DatabaseStore[D Document] struct {
	db *gorm.DB
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore[D Document](db *gorm.DB) *DatabaseStore[D] {
	if db == nil {
		return nil
	}
	return &DatabaseStore[D]{db: db}
}

// FindOne loads the document with the supplied id.
func (s *DatabaseStore[D]) FindOne(ctx context.Context, id string) (D, bool, error) {
	var doc D
	if s == nil {
		return doc, false, unavailable(errors.New("cache: database store not initialised"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	err := s.db.WithContext(ctx).Take(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		observe(databaseBackend, "find", nil)
		return doc, false, nil
	}
	observe(databaseBackend, "find", err)
	if err != nil {
		if isScanError(err) {
			return doc, false, apperrors.ErrInvalidRecord.WithInternal(err)
		}
		return doc, false, unavailable(err)
	}
	return doc, true, nil
}

// UpsertReplace inserts the document or replaces every column of the existing row.
func (s *DatabaseStore[D]) UpsertReplace(ctx context.Context, doc D) error {
	if s == nil {
		return unavailable(errors.New("cache: database store not initialised"))
	}
	if strings.TrimSpace(doc.DocumentID()) == "" {
		return errMissingDocumentID
	}
	if ctx == nil {
		ctx = context.Background()
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&doc).Error
	observe(databaseBackend, "upsert", err)
	return unavailable(err)
}

// Delete removes the document. Deleting a missing document is not an error.
func (s *DatabaseStore[D]) Delete(ctx context.Context, id string) error {
	if s == nil {
		return unavailable(errors.New("cache: database store not initialised"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	err := s.db.WithContext(ctx).Delete(new(D), "id = ?", id).Error
	observe(databaseBackend, "delete", err)
	return unavailable(err)
}

// sqlScanErrorPrefix starts every column conversion failure reported by database/sql.
const sqlScanErrorPrefix = "sql: Scan error"

// isScanError detects rows that exist but could not be decoded into the model.
func isScanError(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		numErr    *strconv.NumError
	)
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &numErr):
		return true
	default:
		return strings.HasPrefix(err.Error(), sqlScanErrorPrefix)
	}
}
