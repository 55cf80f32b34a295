package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"specac_control/internal/fleet"
	"specac_control/internal/models"
	"specac_control/internal/service"
)

func doRequest(r http.Handler, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	return w
}

func TestFleetHandlers_RequireAuth(t *testing.T) {
	s := &service.Service{Authorization: &mockAuth{parseErr: errors.New("bad token")}}
	r := newTestRouter(s)

	paths := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/v1/fleet/scan"},
		{http.MethodGet, "/api/v1/fleet/devices"},
		{http.MethodPost, "/api/v1/fleet/apply"},
		{http.MethodGet, "/api/v1/audit"},
		{http.MethodPost, "/api/v1/scheduler/start"},
	}
	for _, p := range paths {
		if w := doRequest(r, p.method, p.path, nil, nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: got %d, want 401", p.method, p.path, w.Code)
		}
		if w := doRequest(r, p.method, p.path, nil, authHeader("t")); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with rejected token: got %d, want 401", p.method, p.path, w.Code)
		}
	}
}

func TestFleetHandlers_ScanAndList(t *testing.T) {
	ctrl := &mockControl{
		scanDevices: []models.DeviceIdentity{{Port: "COM3", SerialNumber: "SER-A", Chamber: 1, Mapped: true}},
		devices: []fleet.DeviceStatus{{
			DeviceIdentity: models.DeviceIdentity{Port: "COM3", Chamber: 1},
			State:          "connected",
		}},
	}
	s := &service.Service{Authorization: &mockAuth{parseID: 7}, Control: ctrl}
	r := newTestRouter(s)

	w := doRequest(r, http.MethodPost, "/api/v1/fleet/scan", nil, authHeader("valid"))
	if w.Code != http.StatusOK {
		t.Fatalf("scan status=%d body=%s", w.Code, w.Body.String())
	}
	if ctrl.scanCalls != 1 {
		t.Errorf("scan calls: %d", ctrl.scanCalls)
	}
	var scanResp struct {
		Devices []models.DeviceIdentity `json:"devices"`
		Count   int                     `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &scanResp); err != nil {
		t.Fatalf("unmarshal scan response: %v", err)
	}
	if scanResp.Count != 1 || scanResp.Devices[0].Chamber != 1 {
		t.Errorf("scan response: %+v", scanResp)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/fleet/devices", nil, authHeader("valid"))
	if w.Code != http.StatusOK {
		t.Fatalf("devices status=%d", w.Code)
	}

	w = doRequest(r, http.MethodPost, "/api/v1/fleet/apply", nil, authHeader("valid"))
	if w.Code != http.StatusOK || ctrl.applyAllCalls != 1 {
		t.Errorf("apply: status=%d calls=%d", w.Code, ctrl.applyAllCalls)
	}
}

func TestDeviceHandlers_MutationsReachService(t *testing.T) {
	ctrl := &mockControl{}
	s := &service.Service{Authorization: &mockAuth{parseID: 7}, Control: ctrl}
	r := newTestRouter(s)

	w := doRequest(r, http.MethodPut, "/api/v1/fleet/devices/2/intensity/WHITE",
		[]byte(`{"percent":80}`), authHeader("valid"))
	if w.Code != http.StatusOK {
		t.Fatalf("intensity status=%d body=%s", w.Code, w.Body.String())
	}
	if ctrl.lastIdx != 2 || ctrl.lastChannel != "WHITE" || ctrl.lastPercent != 80 {
		t.Errorf("intensity call: idx=%d channel=%q percent=%d", ctrl.lastIdx, ctrl.lastChannel, ctrl.lastPercent)
	}

	w = doRequest(r, http.MethodPut, "/api/v1/fleet/devices/0/schedule/RED",
		[]byte(`{"on_time":"08:00","off_time":"23:30","enabled":true}`), authHeader("valid"))
	if w.Code != http.StatusOK {
		t.Fatalf("schedule status=%d body=%s", w.Code, w.Body.String())
	}
	if ctrl.lastSchedule.OnTime != "08:00" || !ctrl.lastSchedule.Enabled {
		t.Errorf("schedule call: %+v", ctrl.lastSchedule)
	}

	w = doRequest(r, http.MethodPut, "/api/v1/fleet/devices/1/fan",
		[]byte(`{"enabled":true,"speed":60}`), authHeader("valid"))
	if w.Code != http.StatusOK {
		t.Fatalf("fan status=%d body=%s", w.Code, w.Body.String())
	}
	if !ctrl.lastFanOn || ctrl.lastFanSpeed != 60 {
		t.Errorf("fan call: on=%v speed=%d", ctrl.lastFanOn, ctrl.lastFanSpeed)
	}

	// Missing required body field -> 400, service untouched.
	before := ctrl.lastPercent
	w = doRequest(r, http.MethodPut, "/api/v1/fleet/devices/2/intensity/WHITE",
		[]byte(`{}`), authHeader("valid"))
	if w.Code != http.StatusBadRequest || ctrl.lastPercent != before {
		t.Errorf("missing percent: status=%d", w.Code)
	}

	// Non-numeric device id -> 400.
	w = doRequest(r, http.MethodPost, "/api/v1/fleet/devices/abc/ping", nil, authHeader("valid"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad device id: status=%d", w.Code)
	}

	// Service rejection surfaces as 400.
	ctrl.opErr = errors.New("fan speed 200 out of range")
	w = doRequest(r, http.MethodPut, "/api/v1/fleet/devices/1/fan",
		[]byte(`{"enabled":true,"speed":200}`), authHeader("valid"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("rejected fan: status=%d", w.Code)
	}
}

func TestSchedulerHandlers(t *testing.T) {
	ctrl := &mockControl{}
	s := &service.Service{Authorization: &mockAuth{parseID: 7}, Control: ctrl}
	r := newTestRouter(s)

	w := doRequest(r, http.MethodPost, "/api/v1/scheduler/start", nil, authHeader("valid"))
	if w.Code != http.StatusOK || !ctrl.running {
		t.Errorf("start: status=%d running=%v", w.Code, ctrl.running)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/scheduler/status", nil, authHeader("valid"))
	var status struct {
		Running bool `json:"running"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if !status.Running {
		t.Errorf("status after start: %+v", status)
	}

	w = doRequest(r, http.MethodPost, "/api/v1/scheduler/stop", nil, authHeader("valid"))
	if w.Code != http.StatusOK || ctrl.running {
		t.Errorf("stop: status=%d running=%v", w.Code, ctrl.running)
	}
}

func TestSettingsHandlers(t *testing.T) {
	settings := &mockSettings{
		exportData: []byte(`{"chamber_1":{}}`),
		importRep:  service.ImportReport{Chambers: 2, Applied: 1},
	}
	s := &service.Service{Authorization: &mockAuth{parseID: 7}, Settings: settings}
	r := newTestRouter(s)

	w := doRequest(r, http.MethodGet, "/api/v1/settings/export", nil, authHeader("valid"))
	if w.Code != http.StatusOK {
		t.Fatalf("export status=%d", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); got == "" {
		t.Error("export missing Content-Disposition header")
	}
	if w.Body.String() != `{"chamber_1":{}}` {
		t.Errorf("export body: %s", w.Body.String())
	}

	doc := []byte(`{"chamber_1":{"fan":{"enabled":true,"speed":40}}}`)
	w = doRequest(r, http.MethodPost, "/api/v1/settings/import", doc, authHeader("valid"))
	if w.Code != http.StatusOK {
		t.Fatalf("import status=%d body=%s", w.Code, w.Body.String())
	}
	if !bytes.Equal(settings.lastImport, doc) {
		t.Errorf("import body not forwarded: %s", settings.lastImport)
	}
	var rep service.ImportReport
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.Chambers != 2 || rep.Applied != 1 {
		t.Errorf("import report: %+v", rep)
	}
}

func TestAuditHandler_ParsesFilters(t *testing.T) {
	audit := &mockAudit{resp: []models.AuditEntry{{ID: "a", Command: "SETALL"}}}
	s := &service.Service{Authorization: &mockAuth{parseID: 7}, Audit: audit}
	r := newTestRouter(s)

	w := doRequest(r, http.MethodGet,
		"/api/v1/audit?from=2026-08-01T00:00:00Z&chamber=3&limit=10", nil, authHeader("valid"))
	if w.Code != http.StatusOK {
		t.Fatalf("audit status=%d body=%s", w.Code, w.Body.String())
	}
	if audit.lastFilter.Chamber != 3 || audit.lastFilter.Limit != 10 || audit.lastFilter.From.IsZero() {
		t.Errorf("filter: %+v", audit.lastFilter)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/audit?from=yesterday", nil, authHeader("valid"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad from: status=%d", w.Code)
	}
}
