package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// stateRow is the single row holding the encoded record.
type stateRow struct {
	ID        uint `gorm:"primaryKey"`
	Data      []byte
	UpdatedAt time.Time
}

func (stateRow) TableName() string { return "tracker_state" }

const stateRowID = 1

type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite state store: path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite state %s: %w", path, err)
	}

	if err := db.AutoMigrate(&stateRow{}); err != nil {
		return nil, fmt.Errorf("migrating sqlite state: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	var row stateRow
	err := s.db.WithContext(ctx).First(&row, stateRowID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading sqlite state: %w", err)
	}
	return Unmarshal(row.Data)
}

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := Marshal(snap)
	if err != nil {
		return err
	}
	row := stateRow{ID: stateRowID, Data: data}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("saving sqlite state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*SQLiteStore)(nil)
