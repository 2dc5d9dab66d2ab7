package models

import (
	"time"
)

// EmbedDraft is a write-once embed definition shared by the dashboard and the
// chat surface. IDs are allocated by the database and only ever increase.
type EmbedDraft struct {
	ID          uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Title       string    `gorm:"column:title" json:"title"`
	Description string    `gorm:"column:description" json:"description"`
	Color       int       `gorm:"column:color" json:"color"`
	ImageURL    string    `gorm:"column:image_url" json:"image_url,omitempty"`
	Footer      string    `gorm:"column:footer" json:"footer,omitempty"`
	Author      string    `gorm:"column:author" json:"author,omitempty"`
	Timestamp   bool      `gorm:"column:timestamp" json:"timestamp"`
	CreatedBy   string    `gorm:"column:created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (EmbedDraft) TableName() string {
	return "embed_drafts"
}

// Service names used for heartbeats and API health rows.
const (
	ServiceDiscordBot = "discord_bot"
	ServiceDiscordAPI = "discord_api"
)

type ServiceStatus struct {
	ServiceName   string    `gorm:"primaryKey;column:service_name"`
	Status        string    `gorm:"column:status"`
	LastHeartbeat time.Time `gorm:"column:last_heartbeat"`
	Details       string    `gorm:"column:details"`
}

func (ServiceStatus) TableName() string {
	return "service_status"
}

// APIHealthStat holds cumulative call counters for an upstream API.
type APIHealthStat struct {
	ServiceName        string    `gorm:"primaryKey;column:service_name"`
	TotalRequests      uint64    `gorm:"column:total_requests"`
	SuccessfulRequests uint64    `gorm:"column:successful_requests"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (APIHealthStat) TableName() string {
	return "api_health_stats"
}
