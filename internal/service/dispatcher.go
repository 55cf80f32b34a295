package service

import (
	"context"
	"sync"

	"specac_control/internal/fleet"
	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/protocol"
	"specac_control/internal/repository"
)

const subscriberBuffer = 32

// DispatcherService drains the coordinator's result stream: every executed
// command lands in the audit log and is fanned out to live subscribers
// (the websocket handlers). Fan acknowledgements additionally persist the
// refreshed chamber settings.
type DispatcherService struct {
	coord        *fleet.Coordinator
	auditRepo    repository.AuditRepo
	settingsRepo repository.SettingsRepo
	log          *logger.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan models.CommandResult
}

func NewDispatcherService(coord *fleet.Coordinator, auditRepo repository.AuditRepo, settingsRepo repository.SettingsRepo, log *logger.Logger) *DispatcherService {
	return &DispatcherService{
		coord:        coord,
		auditRepo:    auditRepo,
		settingsRepo: settingsRepo,
		log:          log,
		subs:         make(map[int]chan models.CommandResult),
	}
}

// Run consumes results until the context is cancelled.
func (s *DispatcherService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-s.coord.Results():
			s.handle(ctx, res)
		}
	}
}

// Subscribe registers a live result feed. The returned func must be called
// to release it. Slow subscribers miss results rather than stalling the
// dispatcher.
func (s *DispatcherService) Subscribe() (<-chan models.CommandResult, func()) {
	ch := make(chan models.CommandResult, subscriberBuffer)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *DispatcherService) handle(ctx context.Context, res models.CommandResult) {
	entry := models.AuditEntry{
		ID:      res.ResultID,
		Chamber: res.Chamber,
		Command: res.CommandType,
		Success: res.Success,
		Message: res.Message,
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.log.Errorw("audit append failed", "chamber", res.Chamber, "err", err)
	}

	// A fan ack changed the cached fan state; keep the stored settings
	// current so the next restart restores the same speed.
	if res.CommandType == protocol.CmdFanSet && res.Success {
		if settings, ok := s.coord.Settings(res.DeviceIndex); ok {
			if err := s.settingsRepo.Save(ctx, res.Chamber, settings); err != nil {
				s.log.Warnw("persist fan state failed", "chamber", res.Chamber, "err", err)
			}
		}
	}

	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- res:
		default:
		}
	}
	s.mu.Unlock()
}
