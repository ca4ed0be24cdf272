package plant

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"mes/cmd/identity"
	"mes/cmd/internal/auth/revocation"
	"mes/cmd/internal/auth/session"
	"mes/cmd/internal/httpx"
	v1 "mes/shared/contracts/realtime/v1"
)

type recordingNotifier struct {
	mu       sync.Mutex
	sensors  map[string][]v1.SensorReading
	created  map[string][]any
	advances map[string][]v1.WorkOrderAdvance
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		sensors:  make(map[string][]v1.SensorReading),
		created:  make(map[string][]any),
		advances: make(map[string][]v1.WorkOrderAdvance),
	}
}

func (n *recordingNotifier) NotifySensorData(sensorID string, reading v1.SensorReading) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sensors[sensorID] = append(n.sensors[sensorID], reading)
	return 1
}

func (n *recordingNotifier) NotifyNewWorkOrders(organizationID string, payload any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created[organizationID] = append(n.created[organizationID], payload)
	return 1
}

func (n *recordingNotifier) NotifyWorkOrdersAdvance(organizationID string, advance v1.WorkOrderAdvance) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advances[organizationID] = append(n.advances[organizationID], advance)
	return 1
}

type plantFixture struct {
	ts       *httptest.Server
	sessions *session.Service
	store    *InMemoryStore
	notify   *recordingNotifier
}

func newPlantFixture(t *testing.T) *plantFixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := session.DefaultConfig()
	cfg.Secret = "0123456789abcdef0123456789abcdef"
	tokens, err := session.NewJWTManager(cfg)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	sessions := session.NewService(tokens, revocation.New(revocation.WithLogger(log)), session.WithLogger(log))

	st := NewInMemoryStore()
	notify := newRecordingNotifier()
	h, err := NewHandler(log, st, notify)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found")
	})
	h.Register(r, sessions.Middleware)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &plantFixture{ts: ts, sessions: sessions, store: st, notify: notify}
}

func (f *plantFixture) token(t *testing.T, role, org string) string {
	t.Helper()
	tok, _, err := f.sessions.IssueAccessToken(session.Principal{
		AccountID:      "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		Role:           role,
		OrganizationID: org,
	}, time.Now().UTC().Add(-2*time.Second))
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	return tok
}

func call(t *testing.T, method, url, token string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, out
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal error envelope %q: %v", body, err)
	}
	return env.Error.Code
}

func TestPlantAPI_SensorData(t *testing.T) {
	f := newPlantFixture(t)
	op := f.token(t, identity.RoleOperator, "5")

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	status, body := call(t, http.MethodPost, f.ts.URL+"/api/v1/sensors/5/data", op, map[string]any{"value": 21.5, "time": at})
	if status != http.StatusCreated {
		t.Fatalf("status=%d body=%s", status, body)
	}
	// Value zero is a real reading, not a missing field.
	status, body = call(t, http.MethodPost, f.ts.URL+"/api/v1/sensors/5/data", op, map[string]any{"value": 0, "time": at.Add(time.Second)})
	if status != http.StatusCreated {
		t.Fatalf("status=%d body=%s", status, body)
	}

	f.notify.mu.Lock()
	pushed := append([]v1.SensorReading(nil), f.notify.sensors["5"]...)
	f.notify.mu.Unlock()
	if len(pushed) != 2 || pushed[0].Value != 21.5 || !pushed[0].Time.Equal(at) {
		t.Fatalf("unexpected pushes: %+v", pushed)
	}

	status, body = call(t, http.MethodGet, f.ts.URL+"/api/v1/sensors/5/data?limit=1", op, nil)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	var list readingsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Readings) != 1 || list.Readings[0].Value != 0 {
		t.Fatalf("unexpected readings: %+v", list)
	}

	status, body = call(t, http.MethodGet, f.ts.URL+"/api/v1/sensors/5/data?limit=zero", op, nil)
	if status != http.StatusBadRequest || errorCode(t, body) != "invalid_request" {
		t.Fatalf("status=%d body=%s", status, body)
	}

	status, body = call(t, http.MethodPost, f.ts.URL+"/api/v1/sensors/5/data", op, `{}`)
	if status != http.StatusBadRequest || errorCode(t, body) != "invalid_request" {
		t.Fatalf("missing value: status=%d body=%s", status, body)
	}
}

func TestPlantAPI_RequiresAuthAndWriterRole(t *testing.T) {
	f := newPlantFixture(t)

	status, _ := call(t, http.MethodGet, f.ts.URL+"/api/v1/sensors/5/data", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("anonymous status=%d", status)
	}

	status, body := call(t, http.MethodGet, f.ts.URL+"/api/v1/nope", "", nil)
	if status != http.StatusNotFound || errorCode(t, body) != "not_found" {
		t.Fatalf("anonymous unknown route status=%d body=%s", status, body)
	}

	viewer := f.token(t, identity.RoleViewer, "5")
	status, _ = call(t, http.MethodGet, f.ts.URL+"/api/v1/sensors/5/data", viewer, nil)
	if status != http.StatusOK {
		t.Fatalf("viewer read status=%d", status)
	}
	status, body = call(t, http.MethodPost, f.ts.URL+"/api/v1/sensors/5/data", viewer, map[string]any{"value": 1})
	if status != http.StatusForbidden {
		t.Fatalf("viewer write status=%d body=%s", status, body)
	}
}

func TestPlantAPI_WorkOrderFlow(t *testing.T) {
	f := newPlantFixture(t)
	sup := f.token(t, identity.RoleSupervisor, "5")

	status, body := call(t, http.MethodPost, f.ts.URL+"/api/v1/organizations/5/workorders", sup, map[string]any{
		"workOrders": []map[string]any{
			{"number": "WO-1", "quantity": 10},
			{"number": "WO-2", "quantity": 2},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", status, body)
	}
	var created workOrdersResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.OrganizationID != "5" || len(created.WorkOrders) != 2 {
		t.Fatalf("unexpected create response: %+v", created)
	}

	f.notify.mu.Lock()
	pushedNew := f.notify.created["5"]
	f.notify.mu.Unlock()
	if len(pushedNew) != 1 {
		t.Fatalf("newWorkOrders pushes=%d", len(pushedNew))
	}
	if p, ok := pushedNew[0].(v1.NewWorkOrders); !ok || len(p.WorkOrders) != 2 {
		t.Fatalf("unexpected newWorkOrders payload: %#v", pushedNew[0])
	}

	status, body = call(t, http.MethodPost, f.ts.URL+"/api/v1/organizations/5/workorders", sup, map[string]any{
		"workOrders": []map[string]any{{"number": "WO-1", "quantity": 1}},
	})
	if status != http.StatusConflict || errorCode(t, body) != "conflict" {
		t.Fatalf("duplicate status=%d body=%s", status, body)
	}

	status, body = call(t, http.MethodGet, f.ts.URL+"/api/v1/organizations/5/workorders", sup, nil)
	if status != http.StatusOK {
		t.Fatalf("list status=%d body=%s", status, body)
	}
	var list workOrdersResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.WorkOrders) != 2 || list.WorkOrders[0].Number != "WO-1" {
		t.Fatalf("unexpected list: %+v", list)
	}

	id := created.WorkOrders[0].ID
	status, body = call(t, http.MethodPost, f.ts.URL+"/api/v1/workorders/"+id+"/advance", sup, map[string]any{"completedQuantity": 4})
	if status != http.StatusOK {
		t.Fatalf("advance status=%d body=%s", status, body)
	}
	var advanced v1.WorkOrder
	if err := json.Unmarshal(body, &advanced); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if advanced.Status != StatusInProgress || advanced.CompletedQuantity != 4 || advanced.ExecutionDate == nil {
		t.Fatalf("unexpected advance: %+v", advanced)
	}

	f.notify.mu.Lock()
	pushedAdv := f.notify.advances["5"]
	f.notify.mu.Unlock()
	if len(pushedAdv) != 1 || pushedAdv[0].WorkOrderID != id || pushedAdv[0].Number != "WO-1" || pushedAdv[0].Quantity != 10 {
		t.Fatalf("unexpected advance pushes: %+v", pushedAdv)
	}

	status, body = call(t, http.MethodPost, f.ts.URL+"/api/v1/workorders/"+id+"/advance", sup, map[string]any{"completedQuantity": 2})
	if status != http.StatusBadRequest || errorCode(t, body) != "invalid_request" {
		t.Fatalf("decrease status=%d body=%s", status, body)
	}

	status, body = call(t, http.MethodPost, f.ts.URL+"/api/v1/workorders/missing/advance", sup, map[string]any{"completedQuantity": 1})
	if status != http.StatusNotFound {
		t.Fatalf("missing status=%d body=%s", status, body)
	}

	status, body = call(t, http.MethodPost, f.ts.URL+"/api/v1/workorders/"+id+"/advance", sup, map[string]any{"completedQuantity": 5, "status": "paused"})
	if status != http.StatusBadRequest {
		t.Fatalf("bad status value: status=%d body=%s", status, body)
	}
}

func TestPlantAPI_OrganizationScope(t *testing.T) {
	f := newPlantFixture(t)

	created, err := f.store.CreateWorkOrders(t.Context(), "6", []NewWorkOrder{{Number: "WO-9", Quantity: 3}}, time.Now())
	if err != nil {
		t.Fatalf("CreateWorkOrders: %v", err)
	}

	other := f.token(t, identity.RoleOperator, "5")
	status, body := call(t, http.MethodGet, f.ts.URL+"/api/v1/organizations/6/workorders", other, nil)
	if status != http.StatusForbidden || errorCode(t, body) != "forbidden" {
		t.Fatalf("cross-org list status=%d body=%s", status, body)
	}
	status, _ = call(t, http.MethodPost, f.ts.URL+"/api/v1/workorders/"+created[0].ID+"/advance", other, map[string]any{"completedQuantity": 1})
	if status != http.StatusForbidden {
		t.Fatalf("cross-org advance status=%d", status)
	}

	admin := f.token(t, identity.RoleAdmin, "5")
	status, body = call(t, http.MethodGet, f.ts.URL+"/api/v1/organizations/6/workorders", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("admin list status=%d body=%s", status, body)
	}
}

func TestPlantAPI_BadBodies(t *testing.T) {
	f := newPlantFixture(t)
	op := f.token(t, identity.RoleOperator, "5")

	tooMany := make([]map[string]any, maxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = map[string]any{"number": "N", "quantity": 1}
	}

	cases := []struct {
		name string
		body any
		code string
	}{
		{name: "not json", body: `{`, code: "invalid_json"},
		{name: "unknown field", body: `{"workOrders":[],"extra":1}`, code: "invalid_json"},
		{name: "empty batch", body: map[string]any{"workOrders": []any{}}, code: "invalid_request"},
		{name: "too many", body: map[string]any{"workOrders": tooMany}, code: "invalid_request"},
		{name: "zero quantity", body: map[string]any{"workOrders": []map[string]any{{"number": "A", "quantity": 0}}}, code: "invalid_request"},
		{name: "missing number", body: map[string]any{"workOrders": []map[string]any{{"quantity": 1}}}, code: "invalid_request"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := call(t, http.MethodPost, f.ts.URL+"/api/v1/organizations/5/workorders", op, tc.body)
			if status != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", status, body)
			}
			if got := errorCode(t, body); got != tc.code {
				t.Fatalf("code=%q want %q", got, tc.code)
			}
		})
	}
}

func TestNewHandler_RequiresStore(t *testing.T) {
	t.Parallel()

	if _, err := NewHandler(nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewHandler(nil, NewInMemoryStore(), nil); err != nil {
		t.Fatalf("nil notifier should be allowed: %v", err)
	}
}
