package database

import (
	"errors"
	"testing"
	"time"

	"github.com/NotiFansly/dashbot/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *Repository {
	t.Helper()
	db, err := Init(TypeSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	t.Cleanup(func() { Close(db) })
	return NewRepository(db)
}

func TestEmbedDraftIDsIncrease(t *testing.T) {
	repo := openTestDB(t)

	var last uint
	for i := 0; i < 5; i++ {
		draft := &models.EmbedDraft{Title: "Draft", Description: "body"}
		if err := repo.CreateEmbedDraft(draft); err != nil {
			t.Fatalf("CreateEmbedDraft failed: %v", err)
		}
		if draft.ID <= last {
			t.Fatalf("Expected ID greater than %d, got %d", last, draft.ID)
		}
		last = draft.ID
	}
}

func TestCreateEmbedDraftIgnoresCallerID(t *testing.T) {
	repo := openTestDB(t)

	first := &models.EmbedDraft{Title: "first"}
	if err := repo.CreateEmbedDraft(first); err != nil {
		t.Fatalf("CreateEmbedDraft failed: %v", err)
	}

	second := &models.EmbedDraft{ID: first.ID, Title: "second"}
	if err := repo.CreateEmbedDraft(second); err != nil {
		t.Fatalf("CreateEmbedDraft failed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("Expected a fresh ID for the second draft")
	}

	got, err := repo.GetEmbedDraft(first.ID)
	if err != nil {
		t.Fatalf("GetEmbedDraft failed: %v", err)
	}
	if got.Title != "first" {
		t.Errorf("Expected first draft to be unchanged, got title %q", got.Title)
	}
}

func TestGetEmbedDraft(t *testing.T) {
	repo := openTestDB(t)

	draft := &models.EmbedDraft{
		Title:       "Rules",
		Description: "Be nice",
		Color:       0x5865F2,
		Footer:      "mods",
		Timestamp:   true,
	}
	if err := repo.CreateEmbedDraft(draft); err != nil {
		t.Fatalf("CreateEmbedDraft failed: %v", err)
	}

	got, err := repo.GetEmbedDraft(draft.ID)
	if err != nil {
		t.Fatalf("GetEmbedDraft failed: %v", err)
	}
	if got.Title != "Rules" || got.Description != "Be nice" || got.Color != 0x5865F2 || !got.Timestamp {
		t.Errorf("Unexpected draft: %+v", got)
	}

	if _, err := repo.GetEmbedDraft(draft.ID + 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAPIHealthBulk(t *testing.T) {
	repo := openTestDB(t)

	if err := repo.UpdateAPIHealthBulk("discord_api", 0, 0); err != nil {
		t.Fatalf("Empty update failed: %v", err)
	}
	if _, err := repo.GetAPIHealth("discord_api"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected no row after empty update, got %v", err)
	}

	if err := repo.UpdateAPIHealthBulk("discord_api", 10, 8); err != nil {
		t.Fatalf("First update failed: %v", err)
	}
	if err := repo.UpdateAPIHealthBulk("discord_api", 5, 5); err != nil {
		t.Fatalf("Second update failed: %v", err)
	}

	stat, err := repo.GetAPIHealth("discord_api")
	if err != nil {
		t.Fatalf("GetAPIHealth failed: %v", err)
	}
	if stat.TotalRequests != 15 || stat.SuccessfulRequests != 13 {
		t.Errorf("Expected 15/13, got %d/%d", stat.TotalRequests, stat.SuccessfulRequests)
	}
}

func TestUpsertServiceStatus(t *testing.T) {
	repo := openTestDB(t)

	status := &models.ServiceStatus{ServiceName: "discord_bot", Status: "operational", LastHeartbeat: time.Now()}
	if err := repo.UpsertServiceStatus(status); err != nil {
		t.Fatalf("UpsertServiceStatus failed: %v", err)
	}
	status.Status = "degraded"
	if err := repo.UpsertServiceStatus(status); err != nil {
		t.Fatalf("UpsertServiceStatus failed: %v", err)
	}

	got, err := repo.GetServiceStatus("discord_bot")
	if err != nil {
		t.Fatalf("GetServiceStatus failed: %v", err)
	}
	if got.Status != "degraded" {
		t.Errorf("Expected degraded, got %s", got.Status)
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := WithRetry(func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("Expected success on second attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = WithRetry(func() error {
		calls++
		return gorm.ErrRecordNotFound
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) || calls != 1 {
		t.Errorf("Expected not-found without retry, got err=%v calls=%d", err, calls)
	}

	if err := WithRetry(func() error { return nil }); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestInitRejectsUnknownType(t *testing.T) {
	if _, err := Init("mongodb", "whatever"); err == nil {
		t.Fatal("Expected error for unknown database type")
	}
}
