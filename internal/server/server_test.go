package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"careline/internal/config"
	"careline/internal/db"
	"careline/internal/domain"
	"careline/internal/engine"
	"careline/internal/events"
	"careline/internal/insights"
	"careline/internal/migrate"
	"careline/internal/notify"
	"careline/internal/scope"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("pat-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	bus := events.NewBus()
	e := engine.New(conn, cfg, bus)
	e.Now = func() time.Time { return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC) }
	if _, err := e.CreatePatient(context.Background(), "pat-1", "Test Patient", "tester"); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	notifier := notify.New(e.Repo, bus, cfg)
	notifier.Now = e.Now
	reporter := insights.NewReporter(e.Repo, bus, cfg)
	handler, err := New(Config{
		Engine:   e,
		Notifier: notifier,
		Reporter: reporter,
		Scope:    scope.New(e.Repo),
		BasePath: "/v0",
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			notifier.Close()
			reporter.Close()
			bus.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func seedPlanItem(t *testing.T, srv *testServer) (domain.CarePlan, domain.CarePlanItem) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/patients/pat-1/plans", map[string]any{
		"timezone":   "UTC",
		"start_date": "2025-06-01",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create plan: %d %s", res.StatusCode, string(data))
	}
	var plan domain.CarePlan
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/"+plan.ID+"/items", map[string]any{
		"name":     "Heart pill",
		"type":     "medication",
		"priority": "required",
		"schedule": map[string]any{
			"frequency": "daily",
			"windows":   []map[string]any{{"at": "08:00"}},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item: %d %s", res.StatusCode, string(data))
	}
	var item domain.CarePlanItem
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	return plan, item
}

func TestDayEnsureAndComplete(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedPlanItem(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/patients/pat-1/days/2025-06-02/ensure", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ensure day: %d %s", res.StatusCode, string(data))
	}
	var day DayResponse
	if err := json.Unmarshal(data, &day); err != nil {
		t.Fatalf("unmarshal day: %v", err)
	}
	if len(day.Instances) != 1 || day.Instances[0].Status != domain.StatusPending {
		t.Fatalf("unexpected day: %+v", day)
	}
	instanceID := day.Instances[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/instances/"+instanceID+"/complete", map[string]any{
		"notes": "with breakfast",
	}, map[string]string{"X-Actor-Id": "caregiver"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var completed CompleteResponse
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("unmarshal complete: %v", err)
	}
	if completed.Instance.Status != domain.StatusCompleted || completed.Log.ID == "" {
		t.Fatalf("unexpected completion: %+v", completed)
	}

	// completing twice is a lifecycle conflict
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/instances/"+instanceID+"/complete", map[string]any{}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("error code %q, want invalid_transition", envelope.Error.Code)
	}
}

func TestEnsureDayIdempotentOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedPlanItem(t, srv)
	client := srv.Client()

	_, first := doJSON(t, client, http.MethodPost, srv.URL+"/v0/patients/pat-1/days/2025-06-02/ensure", nil, nil)
	_, second := doJSON(t, client, http.MethodPost, srv.URL+"/v0/patients/pat-1/days/2025-06-02/ensure", nil, nil)
	var a, b DayResponse
	if err := json.Unmarshal(first, &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(second, &b); err != nil {
		t.Fatal(err)
	}
	if len(a.Instances) != 1 || len(b.Instances) != 1 || a.Instances[0].ID != b.Instances[0].ID {
		t.Fatalf("ensure not idempotent: %+v vs %+v", a.Instances, b.Instances)
	}
}

func TestItemValidationRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	plan, _ := seedPlanItem(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/"+plan.ID+"/items", map[string]any{
		"name": "Broken",
		"schedule": map[string]any{
			"frequency": "daily",
			"windows":   []map[string]any{{"start": "10:00", "end": "09:00"}},
		},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted band, got %d %s", res.StatusCode, string(data))
	}
}

func TestUnknownInstanceIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/instances/nope/complete", map[string]any{}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestScopeSuppressionOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	_, item := seedPlanItem(t, srv)
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/patients/pat-1/days/2025-06-02/ensure", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("ensure: %d %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/patients/pat-1/scope", map[string]any{
		"item_id": item.ID,
		"date":    "2025-06-02",
		"reason":  "hospital visit",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("suppress: %d %s", res.StatusCode, string(data))
	}

	var day DayResponse
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/patients/pat-1/days/2025-06-02", nil, nil)
	if err := json.Unmarshal(data, &day); err != nil {
		t.Fatal(err)
	}
	if len(day.Instances) != 0 {
		t.Fatalf("suppressed item still listed: %+v", day.Instances)
	}
	// the instance itself is untouched, just hidden
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/patients/pat-1/days/2025-06-02?all=true", nil, nil)
	if err := json.Unmarshal(data, &day); err != nil {
		t.Fatal(err)
	}
	if len(day.Instances) != 1 {
		t.Fatalf("all=true must include suppressed instances, got %+v", day.Instances)
	}

	if res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/patients/pat-1/scope/"+item.ID+"/2025-06-02", nil, nil); res.StatusCode >= 300 {
		t.Fatalf("restore: %d %s", res.StatusCode, string(data))
	}
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/patients/pat-1/days/2025-06-02", nil, nil)
	if err := json.Unmarshal(data, &day); err != nil {
		t.Fatal(err)
	}
	if len(day.Instances) != 1 {
		t.Fatalf("restore must unhide the item, got %+v", day.Instances)
	}
}

func TestInsightsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedPlanItem(t, srv)
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/patients/pat-1/days/2025-06-02/ensure", nil, nil)
	var day DayResponse
	if err := json.Unmarshal(data, &day); err != nil {
		t.Fatal(err)
	}
	if res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/instances/"+day.Instances[0].ID+"/complete", map[string]any{}, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(body))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/patients/pat-1/insights?from=2025-06-01&to=2025-06-02", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("insights: %d %s", res.StatusCode, string(data))
	}
	var summary insights.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Overall.Total != 1 || summary.Overall.Completed != 1 {
		t.Fatalf("unexpected overall stats: %+v", summary.Overall)
	}
	if summary.Overall.AdherenceRate != 100 {
		t.Fatalf("adherence %v, want 100", summary.Overall.AdherenceRate)
	}
}

func TestEventJournalOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedPlanItem(t, srv)
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/patients/pat-1/days/2025-06-02/ensure", nil, nil)
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/patients/pat-1/events?limit=50", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var eventsOut []EventResponse
	if err := json.Unmarshal(data, &eventsOut); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	types := map[string]bool{}
	for _, ev := range eventsOut {
		types[ev.Type] = true
	}
	for _, want := range []string{"plan.created", "item.added", "instances.generated"} {
		if !types[want] {
			t.Fatalf("missing %s in journal, got %v", want, types)
		}
	}
}
