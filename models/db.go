package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// OpenDB 打开 MySQL 连接（Native SQL + GORM）并自动建表
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("GORM 初始化失败: %w", err)
	}
	if err := gormDB.AutoMigrate(&ProjectRecord{}); err != nil {
		return nil, fmt.Errorf("自动建表失败: %w", err)
	}
	log.Println("数据库连接成功 (Native SQL + GORM)")
	return gormDB, nil
}

// ProjectRecord 一行即一个项目文档；state 以 JSON 列保存，整行写入是原子的
type ProjectRecord struct {
	ID         string       `gorm:"primaryKey;type:varchar(191)"`
	Title      string       `gorm:"type:varchar(512)"`
	Mode       string       `gorm:"type:varchar(32)"`
	Status     string       `gorm:"type:varchar(64)"`
	CreatedTag string       `gorm:"column:created_tag;type:varchar(32)"`
	State      ProjectState `gorm:"type:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// 强制指定表名
func (ProjectRecord) TableName() string {
	return "project_documents"
}

func (r ProjectRecord) Meta() Project {
	return Project{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedTag, Status: r.Status, Mode: r.Mode}
}

// GormStore ProjectStore 的 MySQL 实现
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) find(ctx context.Context, id string) (*ProjectRecord, error) {
	var rec ProjectRecord
	if err := s.DB.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		return nil, fmt.Errorf("query project: %w", err)
	}
	return &rec, nil
}

func (s *GormStore) exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&ProjectRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("query project: %w", err)
	}
	return n > 0, nil
}

func (s *GormStore) Create(ctx context.Context, meta Project, state ProjectState) error {
	ok, err := s.exists(ctx, meta.ID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrProjectExists, meta.ID)
	}
	state.normalize()
	rec := ProjectRecord{
		ID:         meta.ID,
		Title:      meta.Title,
		Mode:       meta.Mode,
		Status:     meta.Status,
		CreatedTag: meta.CreatedAt,
		State:      state,
	}
	if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *GormStore) LoadMeta(ctx context.Context, id string) (Project, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return Project{}, err
	}
	return rec.Meta(), nil
}

func (s *GormStore) SaveMeta(ctx context.Context, meta Project) error {
	ok, err := s.exists(ctx, meta.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, meta.ID)
	}
	updates := map[string]interface{}{
		"title":      meta.Title,
		"mode":       meta.Mode,
		"status":     meta.Status,
		"updated_at": time.Now(),
	}
	if err := s.DB.WithContext(ctx).Model(&ProjectRecord{}).Where("id = ?", meta.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update project meta: %w", err)
	}
	return nil
}

func (s *GormStore) LoadState(ctx context.Context, id string) (ProjectState, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return ProjectState{}, err
	}
	return rec.State, nil
}

func (s *GormStore) SaveState(ctx context.Context, id string, state ProjectState) error {
	ok, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	updates := map[string]interface{}{
		"state":      state,
		"updated_at": time.Now(),
	}
	if err := s.DB.WithContext(ctx).Model(&ProjectRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update project state: %w", err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := s.DB.WithContext(ctx).Model(&ProjectRecord{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return ids, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Delete(&ProjectRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return nil
}
