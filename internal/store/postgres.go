package store

import (
	"context"
	"time"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const collectionDocumentID = "events"

// collectionLockKey is the advisory lock guarding read-modify-write cycles
const collectionLockKey int64 = 0x76756c747572 // "vultur"

// CollectionDocument is the single row holding the serialized collection
type CollectionDocument struct {
	ID        string    `gorm:"primaryKey"`
	Data      []byte    `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the table name
func (CollectionDocument) TableName() string {
	return "event_collections"
}

// PostgresStore keeps the collection as one jsonb document
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects and migrates the document table
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get DB instance")
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB wraps an open connection
func NewPostgresStoreWithDB(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&CollectionDocument{}); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return &PostgresStore{db: db}, nil
}

// Read loads the document, an absent row is an empty collection
func (p *PostgresStore) Read(ctx context.Context) (models.Collection, error) {
	return readDocument(p.db.WithContext(ctx))
}

func readDocument(db *gorm.DB) (models.Collection, error) {
	var doc CollectionDocument
	err := db.First(&doc, "id = ?", collectionDocumentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Collection{Events: []models.Event{}}, nil
		}
		return models.Collection{}, apperr.Wrap(apperr.KindStore, err, "failed to read collection")
	}
	return decode(doc.Data)
}

// Write upserts the document in one transaction
func (p *PostgresStore) Write(ctx context.Context, collection models.Collection) error {
	b, err := encode(collection)
	if err != nil {
		return err
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return writeDocument(tx, b)
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStore, err, "failed to write collection")
	}
	return nil
}

// Update runs fn inside one transaction holding a transaction scoped
// advisory lock, which serializes writers across processes
func (p *PostgresStore) Update(ctx context.Context, fn UpdateFunc) error {
	var fnErr error
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", collectionLockKey).Error; err != nil {
			return errors.Wrap(err, "failed to acquire collection lock")
		}

		current, err := readDocument(tx)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		b, err := encode(next)
		if err != nil {
			return err
		}
		return writeDocument(tx, b)
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil && apperr.KindOf(err) == "" {
		return apperr.Wrap(apperr.KindStore, err, "failed to update collection")
	}
	return err
}

func writeDocument(tx *gorm.DB, data []byte) error {
	doc := CollectionDocument{ID: collectionDocumentID, Data: data}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&doc).Error
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
