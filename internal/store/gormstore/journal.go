package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"botwatch/internal/store"
	"botwatch/internal/store/model"
)

const defaultRecentLimit = 50

// JournalStore implements store.Journal using Gorm over the pure-Go SQLite
// driver.
type JournalStore struct {
	db *gorm.DB
}

var _ store.Journal = (*JournalStore)(nil)

// NewJournalStore opens (and migrates) the journal at path.
func NewJournalStore(path string) (*JournalStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal store: 路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开 journal 失败: %w", err)
	}
	return NewJournalStoreFromDB(db)
}

// NewJournalStoreFromDB wraps an existing connection.
func NewJournalStoreFromDB(db *gorm.DB) (*JournalStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	if err := db.AutoMigrate(&model.ActionRecord{}); err != nil {
		return nil, fmt.Errorf("迁移 journal 失败: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &JournalStore{db: db}, nil
}

func (s *JournalStore) Append(ctx context.Context, rec *model.ActionRecord) error {
	if rec == nil {
		return errors.New("journal: nil record")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("journal: record id 不能为空")
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// Recent returns the newest records first.
func (s *JournalStore) Recent(ctx context.Context, q store.Query) ([]model.ActionRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	tx := s.db.WithContext(ctx).Model(&model.ActionRecord{})
	if kind := strings.TrimSpace(q.Kind); kind != "" {
		tx = tx.Where("kind = ?", kind)
	}
	if target := strings.TrimSpace(q.Target); target != "" {
		tx = tx.Where("target = ?", target)
	}
	var out []model.ActionRecord
	if err := tx.Order("finished_at DESC").Order("started_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes all but the newest keep records.
func (s *JournalStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	db := s.db.WithContext(ctx)
	newest := db.Model(&model.ActionRecord{}).Select("id").Order("finished_at DESC").Limit(keep)
	res := db.Where("id NOT IN (?)", newest).Delete(&model.ActionRecord{})
	return res.RowsAffected, res.Error
}

func (s *JournalStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
