package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NotiFansly/dashbot/internal/database"
	"github.com/NotiFansly/dashbot/internal/models"
	"github.com/NotiFansly/dashbot/internal/sticky"
	"github.com/NotiFansly/dashbot/internal/ticket"
)

type stubTickets []ticket.Ticket

func (s stubTickets) List() []ticket.Ticket { return s }
func (s stubTickets) Count() int            { return len(s) }

type stubStickies []sticky.Record

func (s stubStickies) List() []sticky.Record { return s }

type stubVerifications int

func (s stubVerifications) PendingCount() int { return int(s) }

type stubCalls struct{ total, successful uint64 }

func (s stubCalls) Pending() (uint64, uint64) { return s.total, s.successful }

func TestActivityEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubSnapshots{}, &fakeController{})
	srv.WithActivity(Activity{
		Tickets:       stubTickets{{GuildID: "g1", OwnerID: "u1", ChannelID: "c1", Reason: "billing", CreatedAt: time.Now()}},
		Stickies:      stubStickies{{ChannelID: "general", Content: "Read the rules", MessageID: "m1"}},
		Verifications: stubVerifications(2),
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/activity", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp activityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OpenTickets != 1 || len(resp.Tickets) != 1 || resp.Tickets[0].Reason != "billing" {
		t.Errorf("Unexpected tickets: %+v", resp)
	}
	if len(resp.Stickies) != 1 || resp.Stickies[0].MessageID != "m1" {
		t.Errorf("Unexpected stickies: %+v", resp.Stickies)
	}
	if resp.PendingVerifications != 2 {
		t.Errorf("Expected 2 pending verifications, got %d", resp.PendingVerifications)
	}
	if resp.DashboardClients != 0 {
		t.Errorf("Expected no dashboard clients, got %d", resp.DashboardClients)
	}
}

func TestActivityEndpointWithoutSources(t *testing.T) {
	srv, _ := newTestServer(t, &stubSnapshots{}, &fakeController{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/activity", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if tickets, ok := body["tickets"].([]any); !ok || len(tickets) != 0 {
		t.Errorf("Expected an empty ticket list, got %v", body["tickets"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	db, err := database.Init(database.TypeSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })
	repo := database.NewRepository(db)

	srv, _ := newTestServer(t, &stubSnapshots{}, &fakeController{})
	srv.WithActivity(Activity{Health: repo, APICalls: stubCalls{total: 3, successful: 2}})

	// nothing recorded yet
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var empty healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &empty); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || empty.Bot != nil || empty.DiscordAPI.UnflushedRequests != 3 {
		t.Errorf("Unexpected empty health: %d %+v", rec.Code, empty)
	}

	if err := repo.UpsertServiceStatus(&models.ServiceStatus{
		ServiceName:   models.ServiceDiscordBot,
		Status:        "operational",
		LastHeartbeat: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateAPIHealthBulk(models.ServiceDiscordAPI, 10, 9); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Bot == nil || resp.Bot.Status != "operational" {
		t.Errorf("Expected operational heartbeat, got %+v", resp.Bot)
	}
	api := resp.DiscordAPI
	if api.TotalRequests != 10 || api.SuccessfulRequests != 9 || api.UnflushedSuccessful != 2 {
		t.Errorf("Unexpected API health: %+v", api)
	}
}
