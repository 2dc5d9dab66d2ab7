package dashboard

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/NotiFansly/dashbot/internal/database"
	"github.com/NotiFansly/dashbot/internal/models"
	"github.com/NotiFansly/dashbot/internal/sticky"
	"github.com/NotiFansly/dashbot/internal/ticket"
)

// TicketLister is implemented by *ticket.Registry.
type TicketLister interface {
	List() []ticket.Ticket
	Count() int
}

// StickyLister is implemented by *sticky.Manager.
type StickyLister interface {
	List() []sticky.Record
}

// VerificationCounter is implemented by *verify.Flow.
type VerificationCounter interface {
	PendingCount() int
}

// HealthReader is implemented by *database.Repository.
type HealthReader interface {
	GetServiceStatus(serviceName string) (*models.ServiceStatus, error)
	GetAPIHealth(serviceName string) (*models.APIHealthStat, error)
}

// UnflushedCounter is implemented by *health.Aggregator.
type UnflushedCounter interface {
	Pending() (total, successful uint64)
}

// Activity holds the sources behind /activity and /health. Nil sources are
// reported as empty.
type Activity struct {
	Tickets       TicketLister
	Stickies      StickyLister
	Verifications VerificationCounter
	Health        HealthReader
	APICalls      UnflushedCounter
}

func (s *Server) WithActivity(a Activity) *Server {
	s.activity = a
	return s
}

type ticketView struct {
	GuildID   string    `json:"guild_id"`
	OwnerID   string    `json:"owner_id"`
	ChannelID string    `json:"channel_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type stickyView struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
}

type activityResponse struct {
	OpenTickets          int          `json:"open_tickets"`
	Tickets              []ticketView `json:"tickets"`
	Stickies             []stickyView `json:"stickies"`
	PendingVerifications int          `json:"pending_verifications"`
	DashboardClients     int          `json:"dashboard_clients"`
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	resp := activityResponse{
		Tickets:          []ticketView{},
		Stickies:         []stickyView{},
		DashboardClients: s.publisher.ClientCount(),
	}
	if s.activity.Tickets != nil {
		resp.OpenTickets = s.activity.Tickets.Count()
		for _, t := range s.activity.Tickets.List() {
			resp.Tickets = append(resp.Tickets, ticketView{
				GuildID:   t.GuildID,
				OwnerID:   t.OwnerID,
				ChannelID: t.ChannelID,
				Reason:    t.Reason,
				CreatedAt: t.CreatedAt,
			})
		}
	}
	if s.activity.Stickies != nil {
		for _, rec := range s.activity.Stickies.List() {
			resp.Stickies = append(resp.Stickies, stickyView{
				ChannelID: rec.ChannelID,
				Content:   rec.Content,
				MessageID: rec.MessageID,
			})
		}
	}
	if s.activity.Verifications != nil {
		resp.PendingVerifications = s.activity.Verifications.PendingCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

type serviceView struct {
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

type apiHealthView struct {
	TotalRequests       uint64 `json:"total_requests"`
	SuccessfulRequests  uint64 `json:"successful_requests"`
	UnflushedRequests   uint64 `json:"unflushed_requests"`
	UnflushedSuccessful uint64 `json:"unflushed_successful"`
}

type healthResponse struct {
	Bot        *serviceView  `json:"bot"`
	DiscordAPI apiHealthView `json:"discord_api"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var resp healthResponse

	if s.activity.Health != nil {
		status, err := s.activity.Health.GetServiceStatus(models.ServiceDiscordBot)
		switch {
		case err == nil:
			resp.Bot = &serviceView{Status: status.Status, LastHeartbeat: status.LastHeartbeat}
		case !errors.Is(err, database.ErrNotFound):
			log.Printf("Error loading bot heartbeat: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load health"})
			return
		}

		stat, err := s.activity.Health.GetAPIHealth(models.ServiceDiscordAPI)
		switch {
		case err == nil:
			resp.DiscordAPI.TotalRequests = stat.TotalRequests
			resp.DiscordAPI.SuccessfulRequests = stat.SuccessfulRequests
		case !errors.Is(err, database.ErrNotFound):
			log.Printf("Error loading API health: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load health"})
			return
		}
	}
	if s.activity.APICalls != nil {
		resp.DiscordAPI.UnflushedRequests, resp.DiscordAPI.UnflushedSuccessful = s.activity.APICalls.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}
