package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/auth"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/poller"
	"crm-telephony/internal/rbac"
	"crm-telephony/internal/reporting"
	"crm-telephony/internal/telephony"

	"github.com/gin-gonic/gin"
)

type fakeControl struct {
	err     error
	lastReq struct {
		action  string
		partyID string
		flag    bool
	}
}

func (f *fakeControl) result(action, callID, partyID string, flag bool) (telephony.ControlResult, error) {
	f.lastReq.action, f.lastReq.partyID, f.lastReq.flag = action, partyID, flag
	if f.err != nil {
		return telephony.ControlResult{}, f.err
	}
	return telephony.ControlResult{CallID: callID, PartyID: partyID, Action: action}, nil
}

func (f *fakeControl) Answer(_ context.Context, _ audit.Actor, callID, partyID string) (telephony.ControlResult, error) {
	return f.result(telephony.ActionAnswer, callID, partyID, true)
}
func (f *fakeControl) Hangup(_ context.Context, _ audit.Actor, callID, partyID string) (telephony.ControlResult, error) {
	return f.result(telephony.ActionHangup, callID, partyID, true)
}
func (f *fakeControl) SetMuted(_ context.Context, _ audit.Actor, callID, partyID string, muted bool) (telephony.ControlResult, error) {
	return f.result(telephony.ActionMute, callID, partyID, muted)
}
func (f *fakeControl) SetHold(_ context.Context, _ audit.Actor, callID, partyID string, hold bool) (telephony.ControlResult, error) {
	return f.result(telephony.ActionHold, callID, partyID, hold)
}
func (f *fakeControl) SetRecording(_ context.Context, _ audit.Actor, callID, partyID string, active bool) (telephony.ControlResult, error) {
	return f.result(telephony.ActionRecord, callID, partyID, active)
}

type fakePoller struct {
	sweeps   int
	skipped  bool
	sweepErr error
	from    time.Time
	to      time.Time
	syncErr error
}

func (f *fakePoller) Sweep(ctx context.Context) poller.SweepReport {
	f.sweeps++
	f.sweepErr = ctx.Err()
	return poller.SweepReport{Skipped: f.skipped, RecordingCandidates: 2}
}

func (f *fakePoller) SyncCallLogs(_ context.Context, from, to time.Time) (poller.SyncReport, error) {
	f.from, f.to = from, to
	return poller.SyncReport{Fetched: 3, Upserted: 3}, f.syncErr
}

type fakeSIP struct {
	cached  map[string]bool
	fetches int
}

func (f *fakeSIP) Provision(_ context.Context, userID string) (telephony.SIPInfo, bool, error) {
	if f.cached[userID] {
		return telephony.SIPInfo{}, true, nil
	}
	f.fetches++
	f.cached[userID] = true
	return telephony.SIPInfo{}, false, nil
}

func (f *fakeSIP) Forget(_ context.Context, userID string) error {
	delete(f.cached, userID)
	return nil
}

type env struct {
	store  *calls.MemoryStore
	ctl    *fakeControl
	poll   *fakePoller
	sip    *fakeSIP
	audits *audit.MemoryRepo
	h      Handlers
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := calls.NewMemoryStore()
	repo := audit.NewMemoryRepo()
	e := &env{store: st, ctl: &fakeControl{}, poll: &fakePoller{}, sip: &fakeSIP{cached: map[string]bool{}}, audits: repo}
	e.h = Handlers{
		Calls:         st,
		Reports:       reporting.NewService(st),
		Control:       e.ctl,
		Poller:        e.poll,
		SIP:           e.sip,
		Events:        telephony.WebhookHandler{Reconciler: calls.NewReconciler(st, nil)},
		Audit:         audit.NewService(repo),
		AllowSimulate: true,
	}
	return e
}

func (e *env) router(id auth.Identity) *gin.Engine {
	r := gin.New()
	v1 := r.Group("/v1", func(c *gin.Context) {
		if id.UserID != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		}
		c.Next()
	})
	v1.GET("/me", e.h.Me)
	v1.GET("/sip/provision", e.h.ProvisionSIP)
	v1.DELETE("/sip/provision", e.h.ResetSIP)
	v1.GET("/calls", e.h.ListCalls)
	v1.GET("/calls/summary/inbound", e.h.InboundSummary)
	v1.GET("/calls/:call_id", e.h.GetCall)
	v1.POST("/calls/:call_id/answer", e.h.AnswerCall)
	v1.POST("/calls/:call_id/mute", e.h.MuteCall)
	v1.POST("/calls/:call_id/hold", e.h.HoldCall)

	admin := v1.Group("", rbac.RequireAnyRole())
	admin.POST("/calls/sync", e.h.SyncCalls)
	admin.POST("/calls/simulate", e.h.SimulateCall)
	admin.POST("/admin/poller/sweep", e.h.SweepNow)
	return r
}

func (e *env) seed(t *testing.T, callID string, dir calls.Direction, from, to string) {
	t.Helper()
	start := time.Now().UTC().Add(-time.Hour)
	status := calls.StatusEnded
	dur := 30
	_, err := e.store.UpsertByCallID(context.Background(), callID, calls.Update{
		Direction: &dir, FromNumber: &from, ToNumber: &to, StartTime: &start, Status: &status, Duration: &dur,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var (
	admin = auth.Identity{UserID: "admin-1", Role: rbac.RoleAdmin}
	agent = auth.Identity{UserID: "agent-1", Role: rbac.RoleAgent, AssignedNumbers: []string{"+1 (555) 100-0000"}}
)

func TestMe_RequiresIdentity(t *testing.T) {
	e := newEnv(t)
	if w := do(e.router(auth.Identity{}), http.MethodGet, "/v1/me", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	w := do(e.router(agent), http.MethodGet, "/v1/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got auth.Identity
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != "agent-1" || len(got.AssignedNumbers) != 1 {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func TestListCalls_ScopedToAssignedNumbers(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "mine", calls.DirectionInbound, "+15550001", "+15551000000")
	e.seed(t, "other", calls.DirectionInbound, "+15550002", "+15552000000")

	var body struct {
		Calls []calls.CallRecord `json:"calls"`
		Count int                `json:"count"`
	}
	w := do(e.router(agent), http.MethodGet, "/v1/calls?direction=inbound", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Calls[0].CallID != "mine" {
		t.Fatalf("agent should only see own calls, got %+v", body)
	}

	w = do(e.router(admin), http.MethodGet, "/v1/calls", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("admin should see all calls, got %d", body.Count)
	}
}

func TestListCalls_RejectsBadQuery(t *testing.T) {
	e := newEnv(t)
	r := e.router(admin)
	for _, q := range []string{"direction=sideways", "range=decade", "from=yesterday", "limit=-1"} {
		if w := do(r, http.MethodGet, "/v1/calls?"+q, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestGetCall_HidesOutOfScopeRecords(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "other", calls.DirectionInbound, "+15550002", "+15552000000")

	if w := do(e.router(agent), http.MethodGet, "/v1/calls/other", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for out-of-scope call, got %d", w.Code)
	}
	if w := do(e.router(admin), http.MethodGet, "/v1/calls/other", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
	if w := do(e.router(admin), http.MethodGet, "/v1/calls/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}
}

func TestInboundSummary(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "a", calls.DirectionInbound, "+15550001", "+15551000000")
	e.seed(t, "b", calls.DirectionInbound, "+15550002", "+15551000000")

	w := do(e.router(agent), http.MethodGet, "/v1/calls/summary/inbound?dateRange=7days", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum reporting.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalCalls != 2 || len(sum.Numbers) != 1 || sum.Numbers[0].CompletedCalls != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if w := do(e.router(agent), http.MethodGet, "/v1/calls/summary/inbound?dateRange=forever", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad range, got %d", w.Code)
	}
}

func TestControl_DefaultsAndErrorMapping(t *testing.T) {
	e := newEnv(t)
	r := e.router(agent)

	w := do(r, http.MethodPost, "/v1/calls/s-1/mute", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if e.ctl.lastReq.action != telephony.ActionMute || !e.ctl.lastReq.flag {
		t.Fatalf("mute without body should default to muted=true, got %+v", e.ctl.lastReq)
	}

	w = do(r, http.MethodPost, "/v1/calls/s-1/hold", map[string]any{"partyId": "p-2", "hold": false})
	if w.Code != http.StatusOK || e.ctl.lastReq.flag || e.ctl.lastReq.partyID != "p-2" {
		t.Fatalf("unexpected hold call: %d %+v", w.Code, e.ctl.lastReq)
	}

	cases := []struct {
		err  error
		want int
	}{
		{telephony.ErrNotRingable, http.StatusConflict},
		{telephony.ErrNoActiveParty, http.StatusNotFound},
		{&telephony.APIError{Op: "answer", StatusCode: http.StatusServiceUnavailable}, http.StatusServiceUnavailable},
		{&telephony.APIError{Op: "answer", StatusCode: http.StatusForbidden}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e.ctl.err = tc.err
		if w := do(r, http.MethodPost, "/v1/calls/s-1/answer", nil); w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestAdminRoutes_ForbiddenForAgents(t *testing.T) {
	e := newEnv(t)
	if w := do(e.router(agent), http.MethodPost, "/v1/admin/poller/sweep", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if e.poll.sweeps != 0 {
		t.Fatalf("sweep must not run for agents")
	}
}

func TestResetSIP_ForcesFreshProvision(t *testing.T) {
	e := newEnv(t)
	r := e.router(agent)

	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodGet, "/v1/sip/provision", nil); w.Code != http.StatusOK {
			t.Fatalf("provision: expected 200, got %d", w.Code)
		}
	}
	if e.sip.fetches != 1 {
		t.Fatalf("expected cached second provision, got %d fetches", e.sip.fetches)
	}

	if w := do(r, http.MethodDelete, "/v1/sip/provision", nil); w.Code != http.StatusNoContent {
		t.Fatalf("reset: expected 204, got %d", w.Code)
	}
	w := do(r, http.MethodGet, "/v1/sip/provision", nil)
	var body struct {
		Cached bool `json:"cached"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Cached || e.sip.fetches != 2 {
		t.Fatalf("expected fresh provision after reset, cached=%v fetches=%d", body.Cached, e.sip.fetches)
	}
}

func TestSweepNow_AuditsAndReports(t *testing.T) {
	e := newEnv(t)
	w := do(e.router(admin), http.MethodPost, "/v1/admin/poller/sweep", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if e.poll.sweeps != 1 {
		t.Fatalf("expected one sweep, got %d", e.poll.sweeps)
	}
	if evs := e.audits.Events(); len(evs) != 1 || evs[0].Type != audit.EventTypeAdminAction {
		t.Fatalf("expected one admin audit event, got %+v", evs)
	}

	e.poll.skipped = true
	if w := do(e.router(admin), http.MethodPost, "/v1/admin/poller/sweep", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for skipped sweep, got %d", w.Code)
	}
}

func TestSweepNow_SurvivesClientDisconnect(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/poller/sweep", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	e.router(admin).ServeHTTP(w, req)

	if e.poll.sweeps != 1 {
		t.Fatalf("expected one sweep, got %d", e.poll.sweeps)
	}
	if e.poll.sweepErr != nil {
		t.Fatalf("sweep saw a cancelled context: %v", e.poll.sweepErr)
	}
}

func TestSyncCalls_DefaultWindow(t *testing.T) {
	e := newEnv(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e.h.Now = func() time.Time { return now }

	w := do(e.router(admin), http.MethodPost, "/v1/calls/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !e.poll.to.Equal(now) || !e.poll.from.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("unexpected window %v..%v", e.poll.from, e.poll.to)
	}

	e.poll.syncErr = errors.New("provider down")
	if w := do(e.router(admin), http.MethodPost, "/v1/calls/sync", nil); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestSimulateCall_RunsPipeline(t *testing.T) {
	e := newEnv(t)
	r := e.router(admin)

	w := do(r, http.MethodPost, "/v1/calls/simulate", map[string]any{
		"callId": "sim-1", "status": "Setup", "direction": "Inbound", "from": "+15550001", "to": "+15551000000",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rec, err := e.store.FindByCallID(context.Background(), "sim-1")
	if err != nil {
		t.Fatalf("simulated call not stored: %v", err)
	}
	if rec.Status != calls.StatusRinging || rec.Direction != calls.DirectionInbound {
		t.Fatalf("unexpected record %+v", rec)
	}

	e.h.AllowSimulate = false
	if w := do(e.router(admin), http.MethodPost, "/v1/calls/simulate", map[string]any{"status": "Setup"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when simulation is disabled, got %d", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := Handlers{Ready: map[string]ReadyCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	}}
	r := gin.New()
	r.GET("/readyz", h.Readyz)
	r.GET("/healthz", h.Healthz)

	if w := do(r, http.MethodGet, "/readyz", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
