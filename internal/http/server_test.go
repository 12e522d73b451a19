package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmehdipour/outreach/internal/repository/memory"
	"github.com/jmehdipour/outreach/internal/service/runs"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
)

type fakeOwners map[string]model.Owner

func (f fakeOwners) GetByAPIKey(_ context.Context, key string) (*model.Owner, error) {
	o, ok := f[key]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

type fakeChannels map[int64]model.Channel

func (f fakeChannels) GetForOwner(_ context.Context, ownerID, id int64) (*model.Channel, error) {
	ch, ok := f[id]
	if !ok || ch.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return &ch, nil
}

type fakeRuns map[string]model.Run

func (f fakeRuns) Insert(_ context.Context, _ *sqlx.Tx, run model.Run) error {
	f[run.ID] = run
	return nil
}

func (f fakeRuns) Get(_ context.Context, ownerID int64, id string) (*model.Run, error) {
	run, ok := f[id]
	if !ok || run.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return &run, nil
}

func (f fakeRuns) MarkRunning(context.Context, string) (bool, error) { return true, nil }
func (f fakeRuns) Finish(context.Context, model.Run) error { return nil }

type fakeEnqueuer struct{ runs fakeRuns }

func (e fakeEnqueuer) Enqueue(ctx context.Context, run model.Run, _ model.RunCommand) error {
	return e.runs.Insert(ctx, nil, run)
}

type fakeReports struct {
	kind   model.Kind
	status model.Status
}

func (f *fakeReports) ListByOwner(_ context.Context, _ int64, kind model.Kind, status model.Status, _, _ int) ([]repository.RecipientReport, error) {
	f.kind, f.status = kind, status
	return []repository.RecipientReport{{ID: 1, Ref: "alice_1", Status: string(status)}}, nil
}

type testAPI struct {
	e        *echo.Echo
	accounts *memory.Accounts
	reports  *fakeReports
}

func newTestAPI() *testAPI {
	until := time.Now().Add(time.Hour)
	accounts := memory.NewAccounts(
		model.Account{ID: 10, OwnerID: 1},
		model.Account{ID: 11, OwnerID: 1, CooldownUntil: &until},
		model.Account{ID: 20, OwnerID: 2},
	)
	store := fakeRuns{}
	svc := runs.New(
		accounts,
		fakeChannels{5: {ID: 5, OwnerID: 1, Username: "club"}},
		memory.NewRecipients(model.Recipient{ID: 1, OwnerID: 1, Ref: "alice_1"}),
		store,
		fakeEnqueuer{runs: store},
	)
	reports := &fakeReports{}
	e := NewRouter(Routes{
		Runs: svc,
		Owners: fakeOwners{
			"key-1":    {ID: 1, Status: "active"},
			"key-2":    {ID: 2, Status: "active"},
			"key-gone": {ID: 3, Status: "suspended"},
		},
		Recipients: reports,
	})
	return &testAPI{e: e, accounts: accounts, reports: reports}
}

func (a *testAPI) do(method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	api := newTestAPI()
	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"unknown key", "nope", http.StatusUnauthorized},
		{"suspended owner", "key-gone", http.StatusUnauthorized},
		{"active owner", "key-1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := api.do(http.MethodGet, "/v1/accounts/10", tt.key, ""); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if rec := api.do(http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestStartSendRunAndFetch(t *testing.T) {
	api := newTestAPI()
	rec := api.do(http.MethodPost, "/v1/runs/send", "key-1", `{"account_id":10,"message":"hello","limit":5}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var out struct {
		Queued bool   `json:"queued"`
		RunID  string `json:"run_id"`
		Kind   string `json:"kind"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Queued || out.RunID == "" || out.Kind != "send" {
		t.Fatalf("response = %+v", out)
	}

	if rec := api.do(http.MethodGet, "/v1/runs/"+out.RunID, "key-1", ""); rec.Code != http.StatusOK {
		t.Fatalf("get own run = %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/v1/runs/"+out.RunID, "key-2", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get foreign run = %d", rec.Code)
	}
}

func TestStartRunErrors(t *testing.T) {
	api := newTestAPI()
	long := strings.Repeat("x", maxMessageLen+1)
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"send without account", "/v1/runs/send", `{"message":"hi"}`, http.StatusBadRequest},
		{"send blank message", "/v1/runs/send", `{"account_id":10,"message":"   "}`, http.StatusBadRequest},
		{"send message too long", "/v1/runs/send", `{"account_id":10,"message":"` + long + `"}`, http.StatusBadRequest},
		{"send unknown account", "/v1/runs/send", `{"account_id":99,"message":"hi"}`, http.StatusNotFound},
		{"send foreign account", "/v1/runs/send", `{"account_id":20,"message":"hi"}`, http.StatusNotFound},
		{"invite without channel", "/v1/runs/invite", `{"account_id":10}`, http.StatusBadRequest},
		{"invite unknown channel", "/v1/runs/invite", `{"account_id":10,"channel_id":8}`, http.StatusNotFound},
		{"invite ok", "/v1/runs/invite", `{"account_id":10,"channel_id":5}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := api.do(http.MethodPost, tt.path, "key-1", tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestStartRunInCooldown(t *testing.T) {
	api := newTestAPI()
	rec := api.do(http.MethodPost, "/v1/runs/send", "key-1", `{"account_id":11,"message":"hi"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if !strings.Contains(rec.Body.String(), "cooldown_until") {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestStopAccount(t *testing.T) {
	api := newTestAPI()
	if rec := api.do(http.MethodPost, "/v1/accounts/abc/stop", "key-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/v1/accounts/20/stop", "key-1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign stop = %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/v1/accounts/10/stop", "key-1", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("stop = %d", rec.Code)
	}

	rec := api.do(http.MethodGet, "/v1/accounts/10", "key-1", "")
	var st runs.AccountStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.StopRequested || st.ID != 10 {
		t.Fatalf("status = %+v", st)
	}
}

func TestReports(t *testing.T) {
	api := newTestAPI()
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing kind", "", http.StatusBadRequest},
		{"sent is not an invite status", "?kind=invite&status=sent", http.StatusBadRequest},
		{"message alias", "?kind=message&status=SENT", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := api.do(http.MethodGet, "/v1/reports/recipients"+tt.query, "key-1", ""); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if api.reports.kind != model.KindSend || api.reports.status != model.StatusSent {
		t.Fatalf("query reached store as %s/%s", api.reports.kind, api.reports.status)
	}

	rec := api.do(http.MethodGet, "/v1/reports/summary", "key-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary = %d", rec.Code)
	}
	var sum map[string]map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum["invite"]["pending"] != 1 || sum["send"]["pending"] != 1 {
		t.Fatalf("summary = %v", sum)
	}
}
