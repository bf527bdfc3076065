package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"areahood/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type sessionRecord struct {
	Key       string `gorm:"column:session_key;primaryKey;size:191"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "client_sessions" }

// gormLogger routes gorm output through slog and drops not-found noise.
type gormLogger struct {
	level logger.LogLevel
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	n := *l
	n.level = level
	return &n
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		observability.GlobalLogger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		observability.GlobalLogger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		observability.GlobalLogger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent || err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	sql, rows := fc()
	observability.GlobalLogger.ErrorContext(ctx, "session query error",
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", time.Since(begin)),
		slog.String("error", err.Error()),
	)
}

// SQLStore keeps the snapshot in a single row of client_sessions.
type SQLStore struct {
	db      *gorm.DB
	key     string
	backend string
}

// OpenSQL opens dialector, migrates the session table and returns a store
// bound to key. backend labels error metrics.
func OpenSQL(dialector gorm.Dialector, backend, key string) (*SQLStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: &gormLogger{level: logger.Warn},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session table: %w", err)
	}
	return &SQLStore{db: db, key: key, backend: backend}, nil
}

func (s *SQLStore) count(op string, err error) error {
	if err != nil {
		observability.SessionStoreErrors.WithLabelValues(s.backend, op).Inc()
	}
	return err
}

func (s *SQLStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, "session_key = ?", s.key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, s.count("load", err)
	}
	snap, err := Decode([]byte(rec.Data))
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	b, err := snap.Encode()
	if err != nil {
		return err
	}
	rec := sessionRecord{Key: s.key, Data: string(b), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
	return s.count("save", err)
}

func (s *SQLStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Where("session_key = ?", s.key).Delete(&sessionRecord{}).Error
	return s.count("clear", err)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
