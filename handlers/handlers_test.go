package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"otakumori-rewards/models"
	"otakumori-rewards/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	app    *fiber.App
	db     *gorm.DB
	ledger *services.LedgerService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := openHandlerDB(t)
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return newTestServerWithClock(t, db, services.QuestClock{
		Clock:    clockwork.NewFakeClockAt(time.Date(2025, time.June, 1, 10, 0, 0, 0, ny)),
		Location: ny,
	})
}

func openHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.User{}, &models.Quest{}, &models.QuestAssignment{}, &models.StreakShard{}, &models.PetalLedgerEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestServerWithClock(t *testing.T, db *gorm.DB, clock services.QuestClock) *testServer {
	t.Helper()
	ledger := services.NewLedgerService(db, nil)
	app := fiber.New()
	SetupRoutes(app, Services{
		Quests:      services.NewQuestService(db, services.DefaultQuestPool(), clock, 3, ledger),
		Streaks:     services.NewStreakService(db, clock, 5, ledger),
		Ledger:      ledger,
		ClickPetals: 1,
	})
	return &testServer{app: app, db: db, ledger: ledger}
}

func (s *testServer) do(t *testing.T, method, path, user, roles string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestCatalogIsListedWithoutUser(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/quests/catalog", "", "", nil)
	if status != fiber.StatusOK || !env.OK {
		t.Fatalf("expected 200 ok, got %d %+v", status, env)
	}
	var entries []catalogEntry
	decodeData(t, env, &entries)
	if len(entries) != services.DefaultQuestPool().Len() {
		t.Fatalf("expected full catalog, got %d", len(entries))
	}
	if entries[0].KindLabel == "" {
		t.Fatal("expected kind label")
	}
}

func TestSecuredRoutesRequireUser(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/quests/today", "", "", nil)
	if status != fiber.StatusUnauthorized || env.OK || env.Error.Code != "unauthenticated" {
		t.Fatalf("expected 401 unauthenticated, got %d %+v", status, env)
	}
}

func TestTodayAndProgress(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/quests/today", "u1", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("today: %d %+v", status, env)
	}
	var today todayResponse
	decodeData(t, env, &today)
	if today.Day != "2025-06-01" || len(today.Assignments) != 3 {
		t.Fatalf("unexpected today: %+v", today)
	}

	first := today.Assignments[0]
	status, env = s.do(t, http.MethodPost, "/quests/"+first.Quest.Key+"/progress", "u1", "",
		map[string]int{"amount": first.Target})
	if status != fiber.StatusOK {
		t.Fatalf("progress: %d %+v", status, env)
	}
	var res services.ProgressResult
	decodeData(t, env, &res)
	if !res.Completed || res.Reward == nil {
		t.Fatalf("expected completion with reward, got %+v", res)
	}
	want := int64(first.Quest.BasePetals + first.Quest.BonusPetals)
	if res.Reward.Balance != want {
		t.Fatalf("expected balance %d, got %d", want, res.Reward.Balance)
	}

	status, env = s.do(t, http.MethodPost, "/quests/"+first.Quest.Key+"/progress", "u1", "", map[string]int{"amount": 1})
	if status != fiber.StatusConflict || env.Error.Code != "conflict" {
		t.Fatalf("expected 409 conflict, got %d %+v", status, env)
	}
}

func TestProgressErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{name: "unknown quest", path: "/quests/not-a-quest/progress", status: fiber.StatusNotFound, code: "not_found"},
		{name: "zero amount", path: "/quests/write-review/progress", body: map[string]int{"amount": 0}, status: fiber.StatusBadRequest, code: "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(t, http.MethodPost, tt.path, "u1", "", tt.body)
			if status != tt.status || env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("expected %d %s, got %d %+v", tt.status, tt.code, status, env)
			}
		})
	}
}

func TestStreakClaimOncePerDay(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/streak/claim", "u1", "", nil)
	if status != fiber.StatusCreated {
		t.Fatalf("first claim: %d %+v", status, env)
	}
	status, env = s.do(t, http.MethodPost, "/streak/claim", "u1", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("second claim: %d %+v", status, env)
	}
	var award services.StreakAward
	decodeData(t, env, &award)
	if award.Awarded {
		t.Fatal("second claim must not award")
	}

	_, env = s.do(t, http.MethodGet, "/streak", "u1", "", nil)
	var streak struct {
		Days int `json:"days"`
	}
	decodeData(t, env, &streak)
	if streak.Days != 1 {
		t.Fatalf("expected streak of 1, got %d", streak.Days)
	}
}

func TestSpendFlow(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/petals/spend", "u1", "", map[string]interface{}{"amount": 5, "reason": "sticker"})
	if status != fiber.StatusConflict || env.Error.Code != "insufficient_petals" {
		t.Fatalf("expected insufficient petals, got %d %+v", status, env)
	}

	status, env = s.do(t, http.MethodPost, "/admin/petals/grant", "mod", "admin",
		map[string]interface{}{"user_id": "u1", "amount": 20, "reason": "welcome"})
	if status != fiber.StatusCreated {
		t.Fatalf("grant: %d %+v", status, env)
	}

	body := map[string]interface{}{"amount": 8, "reason": "sticker", "idempotency_key": "order-1"}
	status, env = s.do(t, http.MethodPost, "/petals/spend", "u1", "", body)
	if status != fiber.StatusCreated {
		t.Fatalf("spend: %d %+v", status, env)
	}
	status, env = s.do(t, http.MethodPost, "/petals/spend", "u1", "", body)
	if status != fiber.StatusConflict || env.Error.Code != "duplicate_request" {
		t.Fatalf("expected duplicate, got %d %+v", status, env)
	}

	_, env = s.do(t, http.MethodGet, "/petals/balance", "u1", "", nil)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	decodeData(t, env, &bal)
	if bal.Balance != 12 {
		t.Fatalf("expected balance 12, got %d", bal.Balance)
	}

	_, env = s.do(t, http.MethodGet, "/petals/ledger?page=1&size=10", "u1", "", nil)
	var page services.LedgerPage
	decodeData(t, env, &page)
	if page.TotalItems != 2 || page.Entries[0].Type != models.LedgerTypeSpend {
		t.Fatalf("unexpected history: %+v", page)
	}
}

func TestSpendValidation(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/petals/spend", "u1", "", map[string]interface{}{"amount": 0})
	if status != fiber.StatusBadRequest || env.Error.Code != "validation" {
		t.Fatalf("expected 400, got %d %+v", status, env)
	}
	if !strings.Contains(env.Error.Message, "amount") || !strings.Contains(env.Error.Message, "reason") {
		t.Fatalf("expected field names in message, got %q", env.Error.Message)
	}
}

func TestClick(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/petals/click", "u1", "", nil)
	if status != fiber.StatusCreated {
		t.Fatalf("click: %d %+v", status, env)
	}
	var res services.LedgerResult
	decodeData(t, env, &res)
	if res.Balance != 1 || res.Entry.ReasonCode != "petal-click" {
		t.Fatalf("unexpected click result: %+v", res)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/admin/petals/reconcile", "u1", "member", nil)
	if status != fiber.StatusForbidden || env.Error.Code != "forbidden" {
		t.Fatalf("expected 403, got %d %+v", status, env)
	}

	status, env = s.do(t, http.MethodPost, "/admin/petals/adjust", "mod", "admin",
		map[string]interface{}{"user_id": "ghost", "amount": 3, "direction": "credit", "reason": "fix"})
	if status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d %+v", status, env)
	}

	if _, err := s.ledger.EnsureAccount(context.Background(), "u1"); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	status, env = s.do(t, http.MethodPost, "/admin/petals/adjust", "mod", "admin",
		map[string]interface{}{"user_id": "u1", "amount": 3, "direction": "debit", "reason": "chargeback"})
	if status != fiber.StatusCreated {
		t.Fatalf("adjust: %d %+v", status, env)
	}
	var res services.LedgerResult
	decodeData(t, env, &res)
	if res.Balance != -3 || res.Entry.Delta != -3 {
		t.Fatalf("unexpected adjust: %+v", res)
	}

	status, env = s.do(t, http.MethodPost, "/admin/petals/adjust", "mod", "admin",
		map[string]interface{}{"user_id": "u1", "amount": 3, "direction": "sideways", "reason": "x"})
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for bad direction, got %d", status)
	}

	s.db.Model(&models.User{}).Where("id = ?", "u1").UpdateColumn("petal_balance", 100)
	status, env = s.do(t, http.MethodGet, "/admin/petals/reconcile", "mod", "admin", nil)
	if status != fiber.StatusOK {
		t.Fatalf("reconcile: %d", status)
	}
	var report struct {
		Drift      []services.BalanceDrift `json:"drift"`
		Consistent bool                    `json:"consistent"`
	}
	decodeData(t, env, &report)
	if report.Consistent || len(report.Drift) != 1 || report.Drift[0].Ledger != -3 {
		t.Fatalf("unexpected reconcile report: %+v", report)
	}
}

func TestWriteLedgerEvents(t *testing.T) {
	var buf bytes.Buffer
	entries := []models.PetalLedgerEntry{{ID: "a", Type: models.LedgerTypeEarn, Delta: 2}, {ID: "b", Type: models.LedgerTypeSpend, Delta: -1}}
	if err := writeLedgerEvents(&buf, entries); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if strings.Count(out, "event: ledger\n") != 2 || !strings.Contains(out, `"id":"b"`) {
		t.Fatalf("unexpected stream output: %q", out)
	}
}

func TestAmountsAboveCapAreRejected(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.ledger.EnsureAccount(context.Background(), "u1"); err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	tests := []struct {
		name  string
		path  string
		user  string
		roles string
		body  map[string]interface{}
	}{
		{name: "grant", path: "/admin/petals/grant", user: "mod", roles: "admin",
			body: map[string]interface{}{"user_id": "u1", "amount": int64(math.MaxInt64), "reason": "oops"}},
		{name: "credit adjust", path: "/admin/petals/adjust", user: "mod", roles: "admin",
			body: map[string]interface{}{"user_id": "u1", "amount": int64(math.MaxInt64), "direction": "credit", "reason": "oops"}},
		{name: "spend", path: "/petals/spend", user: "u1",
			body: map[string]interface{}{"amount": 1000001, "reason": "oops"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(t, http.MethodPost, tt.path, tt.user, tt.roles, tt.body)
			if status != fiber.StatusBadRequest || env.Error == nil || env.Error.Code != "validation" {
				t.Fatalf("expected 400 validation, got %d %+v", status, env)
			}
			if !strings.Contains(env.Error.Message, "amount must be at most 1000000") {
				t.Fatalf("unexpected message %q", env.Error.Message)
			}
		})
	}

	var rows int64
	s.db.Model(&models.PetalLedgerEntry{}).Count(&rows)
	if rows != 0 {
		t.Fatalf("rejected requests must not write entries, found %d", rows)
	}
}

func entryIDs(entries []models.PetalLedgerEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestLedgerCursor_DeliversLateCommitsOnce(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }
	cursor := newLedgerCursor(30 * time.Second)

	cursor.Prime([]models.PetalLedgerEntry{{ID: "old", CreatedAt: at(0)}})
	if !cursor.Since().Equal(at(-30)) {
		t.Fatalf("unexpected since %s", cursor.Since())
	}

	// click committed and streamed first
	got := cursor.Next([]models.PetalLedgerEntry{{ID: "old", CreatedAt: at(0)}, {ID: "click", CreatedAt: at(5)}})
	if ids := entryIDs(got); len(ids) != 1 || ids[0] != "click" {
		t.Fatalf("expected only click, got %v", ids)
	}

	// quest payout stamped earlier but committed later
	got = cursor.Next([]models.PetalLedgerEntry{
		{ID: "old", CreatedAt: at(0)},
		{ID: "payout", CreatedAt: at(3)},
		{ID: "click", CreatedAt: at(5)},
	})
	if ids := entryIDs(got); len(ids) != 1 || ids[0] != "payout" {
		t.Fatalf("expected the late payout, got %v", ids)
	}

	if got := cursor.Next([]models.PetalLedgerEntry{{ID: "payout", CreatedAt: at(3)}, {ID: "click", CreatedAt: at(5)}}); len(got) != 0 {
		t.Fatalf("expected nothing new, got %v", entryIDs(got))
	}

	cursor.Next([]models.PetalLedgerEntry{{ID: "later", CreatedAt: at(100)}})
	if len(cursor.sent) != 1 {
		t.Fatalf("ids older than the overlap should be pruned, still tracking %d", len(cursor.sent))
	}
}

func TestLedgerCursor_EmptyStartSendsEverything(t *testing.T) {
	cursor := newLedgerCursor(30 * time.Second)
	if !cursor.Since().IsZero() {
		t.Fatalf("expected zero since, got %s", cursor.Since())
	}
	now := time.Now().UTC()
	got := cursor.Next([]models.PetalLedgerEntry{{ID: "a", CreatedAt: now}, {ID: "b", CreatedAt: now}})
	if len(got) != 2 {
		t.Fatalf("expected both entries, got %v", entryIDs(got))
	}
}

// steppingClock moves forward by step every time it is read.
type steppingClock struct {
	clockwork.Clock
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func TestTodayReportsTheDayOfItsAssignments(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	start := time.Date(2025, time.June, 1, 23, 59, 0, 0, ny)
	clock := &steppingClock{Clock: clockwork.NewFakeClockAt(start), now: start, step: 2 * time.Minute}
	s := newTestServerWithClock(t, openHandlerDB(t), services.QuestClock{Clock: clock, Location: ny})

	status, env := s.do(t, http.MethodGet, "/quests/today", "u1", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("today: %d %+v", status, env)
	}
	var today todayResponse
	decodeData(t, env, &today)
	if today.Day != "2025-06-01" {
		t.Fatalf("expected the day read before midnight, got %s", today.Day)
	}
	for _, a := range today.Assignments {
		if a.Day != today.Day {
			t.Fatalf("assignment %s is for %s but response says %s", a.ID, a.Day, today.Day)
		}
	}
}
