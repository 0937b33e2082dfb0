package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livecollab/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// RoomRecord holds the room-level fields.
type RoomRecord struct {
	RoomID       string  `gorm:"primaryKey;size:128"`
	Language     string  `gorm:"size:64"`
	ActiveFileID *string `gorm:"size:128"`
	UpdatedAt    time.Time
}

func (RoomRecord) TableName() string { return "rooms" }

// FileRecord is one file tree node. Seq keeps creation order within a room.
type FileRecord struct {
	RoomID   string  `gorm:"primaryKey;size:128"`
	FileID   string  `gorm:"primaryKey;size:128"`
	Seq      int64   `gorm:"not null;index"`
	Name     string  `gorm:"not null"`
	Kind     string  `gorm:"size:16;not null"`
	Content  string  `gorm:"type:text"`
	Language string  `gorm:"size:64"`
	ParentID *string `gorm:"size:128"`
}

func (FileRecord) TableName() string { return "room_files" }

// SQL is the GORM backed gateway, used for both sqlite and postgres.
type SQL struct {
	DB *gorm.DB
}

func OpenSQLite(path string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return NewSQL(db)
}

func OpenPostgres(dsn string) (*SQL, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return NewSQL(db)
}

// NewSQL migrates the schema on db.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&RoomRecord{}, &FileRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &SQL{DB: db}, nil
}

func (s *SQL) ReadRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	var snap models.RoomSnapshot
	db := s.DB.WithContext(ctx)

	var room RoomRecord
	err := db.Where("room_id = ?", roomID).First(&room).Error
	switch {
	case err == nil:
		snap.Language = room.Language
		snap.ActiveFileID = copyID(room.ActiveFileID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return snap, err
	}

	var files []FileRecord
	if err := db.Where("room_id = ?", roomID).Order("seq ASC").Find(&files).Error; err != nil {
		return snap, err
	}
	for _, f := range files {
		snap.Files = append(snap.Files, models.FileNode{
			ID:       f.FileID,
			Name:     f.Name,
			Kind:     models.FileKind(f.Kind),
			Content:  f.Content,
			Language: f.Language,
			ParentID: copyID(f.ParentID),
		})
	}
	return snap, nil
}

func (s *SQL) WriteFileContent(ctx context.Context, roomID, fileID, content string) error {
	return s.DB.WithContext(ctx).Model(&FileRecord{}).
		Where("room_id = ? AND file_id = ?", roomID, fileID).
		Update("content", content).Error
}

func (s *SQL) upsertRoom(ctx context.Context, rec RoomRecord, columns ...string) error {
	rec.UpdatedAt = time.Now().UTC()
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(&rec).Error
}

func (s *SQL) WriteActiveFile(ctx context.Context, roomID string, fileID *string) error {
	return s.upsertRoom(ctx, RoomRecord{RoomID: roomID, ActiveFileID: copyID(fileID)}, "active_file_id")
}

func (s *SQL) WriteLanguage(ctx context.Context, roomID, language string) error {
	return s.upsertRoom(ctx, RoomRecord{RoomID: roomID, Language: language}, "language")
}

func (s *SQL) WriteFileLanguage(ctx context.Context, roomID, fileID, language string) error {
	return s.DB.WithContext(ctx).Model(&FileRecord{}).
		Where("room_id = ? AND file_id = ?", roomID, fileID).
		Update("language", language).Error
}

func (s *SQL) AppendFile(ctx context.Context, roomID string, node models.FileNode) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int64
		if err := tx.Model(&FileRecord{}).
			Where("room_id = ?", roomID).
			Select("COALESCE(MAX(seq), 0) + 1").
			Scan(&next).Error; err != nil {
			return err
		}
		rec := FileRecord{
			RoomID:   roomID,
			FileID:   node.ID,
			Seq:      next,
			Name:     node.Name,
			Kind:     string(node.Kind),
			Content:  node.Content,
			Language: node.Language,
			ParentID: copyID(node.ParentID),
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	})
}

func (s *SQL) RemoveFile(ctx context.Context, roomID, fileID string) error {
	return s.DB.WithContext(ctx).
		Where("room_id = ? AND file_id = ?", roomID, fileID).
		Delete(&FileRecord{}).Error
}

func (s *SQL) Close(context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
