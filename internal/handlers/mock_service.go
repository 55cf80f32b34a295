package handlers

import (
	"context"
	"net/http"

	"specac_control/internal/fleet"
	"specac_control/internal/models"
	"specac_control/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastGenUsername    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockControl struct {
	scanDevices []models.DeviceIdentity
	scanErr     error
	devices     []fleet.DeviceStatus
	settings    models.ChamberSettings
	settingsErr error
	opErr       error
	running     bool

	scanCalls     int
	applyAllCalls int
	lastIdx       int
	lastChannel   string
	lastPercent   int
	lastSchedule  models.ChannelSchedule
	lastFanOn     bool
	lastFanSpeed  int
}

func (m *mockControl) Scan(ctx context.Context) ([]models.DeviceIdentity, error) {
	m.scanCalls++
	return m.scanDevices, m.scanErr
}
func (m *mockControl) Devices() []fleet.DeviceStatus { return m.devices }
func (m *mockControl) GetSettings(idx int) (models.ChamberSettings, error) {
	m.lastIdx = idx
	return m.settings, m.settingsErr
}
func (m *mockControl) ApplyAll() int {
	m.applyAllCalls++
	return len(m.devices)
}
func (m *mockControl) ApplyDevice(idx int) error { m.lastIdx = idx; return m.opErr }
func (m *mockControl) Ping(idx int) error        { m.lastIdx = idx; return m.opErr }
func (m *mockControl) SetIntensity(ctx context.Context, idx int, channel string, percent int) error {
	m.lastIdx, m.lastChannel, m.lastPercent = idx, channel, percent
	return m.opErr
}
func (m *mockControl) SetSchedule(ctx context.Context, idx int, channel string, sched models.ChannelSchedule) error {
	m.lastIdx, m.lastChannel, m.lastSchedule = idx, channel, sched
	return m.opErr
}
func (m *mockControl) SetFan(idx int, enabled bool, speed int) error {
	m.lastIdx, m.lastFanOn, m.lastFanSpeed = idx, enabled, speed
	return m.opErr
}
func (m *mockControl) StartScheduler()        { m.running = true }
func (m *mockControl) StopScheduler()         { m.running = false }
func (m *mockControl) SchedulerRunning() bool { return m.running }

type mockSettings struct {
	exportData []byte
	exportErr  error
	importRep  service.ImportReport
	importErr  error
	lastImport []byte
}

func (m *mockSettings) Export(ctx context.Context) ([]byte, error) {
	return m.exportData, m.exportErr
}
func (m *mockSettings) Import(ctx context.Context, data []byte) (service.ImportReport, error) {
	m.lastImport = data
	return m.importRep, m.importErr
}

type mockAudit struct {
	resp       []models.AuditEntry
	err        error
	lastFilter service.AuditFilter
}

func (m *mockAudit) List(ctx context.Context, f service.AuditFilter) ([]models.AuditEntry, error) {
	m.lastFilter = f
	return m.resp, m.err
}

type mockDispatcher struct {
	feed chan models.CommandResult
}

func (m *mockDispatcher) Run(ctx context.Context) { <-ctx.Done() }
func (m *mockDispatcher) Subscribe() (<-chan models.CommandResult, func()) {
	if m.feed == nil {
		m.feed = make(chan models.CommandResult, 8)
	}
	return m.feed, func() {}
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
