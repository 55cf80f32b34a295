package service

import (
	"context"
	"errors"
	"time"

	"specac_control/internal/models"
	"specac_control/internal/repository"
)

// AuditFilter narrows the executed-command log. Chamber < 0 (the zero
// value of NewAuditFilter) means all chambers.
type AuditFilter struct {
	From    time.Time
	To      time.Time
	Chamber int
	Limit   int
}

func NewAuditFilter() AuditFilter { return AuditFilter{Chamber: -1} }

type AuditService struct {
	auditRepo repository.AuditRepo
}

func NewAuditService(auditRepo repository.AuditRepo) *AuditService {
	return &AuditService{auditRepo: auditRepo}
}

var errInvalidTimeRange = errors.New("invalid time range: From must be <= To")

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func (s *AuditService) List(ctx context.Context, f AuditFilter) ([]models.AuditEntry, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, errInvalidTimeRange
	}
	return s.auditRepo.List(ctx, from, to, f.Chamber, f.Limit)
}
