package repository

import (
	"context"
	"database/sql"
	"time"

	"specac_control/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

type SettingsRepo interface {
	Save(ctx context.Context, chamber int, s models.ChamberSettings) error
	Load(ctx context.Context, chamber int) (models.ChamberSettings, bool, error)
	LoadAll(ctx context.Context) (map[int]models.ChamberSettings, error)
}

type AuditRepo interface {
	Append(ctx context.Context, e models.AuditEntry) error
	List(ctx context.Context, from, to time.Time, chamber int, limit int) ([]models.AuditEntry, error)
}

type Repository struct {
	Settings SettingsRepo
	Audit    AuditRepo
	Auth     Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Settings: NewSettingsSQLite(db),
		Audit:    NewAuditSQLite(db),
		Auth:     NewUserRepository(db),
	}
}
