package sticky

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NotiFansly/dashbot/internal/metrics"
)

// mockMessenger tracks live messages per channel and flags overlapping
// operations on the same channel.
type mockMessenger struct {
	mu        sync.Mutex
	next      int
	live      map[string]map[string]string
	inFlight  map[string]bool
	overlaps  int
	sends     int
	deletes   int
	sendErr   error
	deleteErr error
	delay     time.Duration
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{
		live:     make(map[string]map[string]string),
		inFlight: make(map[string]bool),
	}
}

func (m *mockMessenger) enter(channelID string) {
	m.mu.Lock()
	if m.inFlight[channelID] {
		m.overlaps++
	}
	m.inFlight[channelID] = true
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
}

func (m *mockMessenger) leave(channelID string) {
	m.mu.Lock()
	m.inFlight[channelID] = false
	m.mu.Unlock()
}

func (m *mockMessenger) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	m.enter(channelID)
	defer m.leave(channelID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.next++
	m.sends++
	id := fmt.Sprintf("m%d", m.next)
	if m.live[channelID] == nil {
		m.live[channelID] = make(map[string]string)
	}
	m.live[channelID][id] = content
	return id, nil
}

func (m *mockMessenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	m.enter(channelID)
	defer m.leave(channelID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.live[channelID], messageID)
	return nil
}

func (m *mockMessenger) liveIn(channelID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.live[channelID]))
	for k, v := range m.live[channelID] {
		out[k] = v
	}
	return out
}

func TestStickyScenario(t *testing.T) {
	msgr := newMockMessenger()
	met := metrics.New()
	mgr := NewManager(msgr, met)
	ctx := context.Background()

	if err := mgr.Set(ctx, "c1", "Welcome!"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := mgr.OnMessage(ctx, "c1", false); err != nil {
			t.Fatal(err)
		}
	}

	if got := testutil.ToFloat64(met.StickyReposts); got != 3 {
		t.Errorf("Expected 3 reposts, got %v", got)
	}
	live := msgr.liveIn("c1")
	if len(live) != 1 {
		t.Fatalf("Expected exactly one live sticky message, got %v", live)
	}
	rec, _ := mgr.Get("c1")
	if live[rec.MessageID] != "Welcome!" {
		t.Errorf("Expected record to point at the live Welcome! message, got %+v / %v", rec, live)
	}
}

func TestSetTwice(t *testing.T) {
	mgr := NewManager(newMockMessenger(), nil)
	ctx := context.Background()

	if err := mgr.Set(ctx, "c1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Set(ctx, "c1", "b"); !errors.Is(err, ErrAlreadySticky) {
		t.Errorf("Expected ErrAlreadySticky, got %v", err)
	}
	if rec, _ := mgr.Get("c1"); rec.Content != "a" {
		t.Errorf("Expected original content kept, got %q", rec.Content)
	}
}

func TestClearWithoutSticky(t *testing.T) {
	msgr := newMockMessenger()
	mgr := NewManager(msgr, nil)

	if err := mgr.Clear(context.Background(), "c1"); !errors.Is(err, ErrNoSticky) {
		t.Errorf("Expected ErrNoSticky, got %v", err)
	}
	if len(mgr.List()) != 0 || msgr.deletes != 0 {
		t.Error("Expected state unchanged")
	}
}

func TestClearDeletesLastMessage(t *testing.T) {
	msgr := newMockMessenger()
	mgr := NewManager(msgr, nil)
	ctx := context.Background()

	mgr.Set(ctx, "c1", "hello")
	mgr.OnMessage(ctx, "c1", false)
	if err := mgr.Clear(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if live := msgr.liveIn("c1"); len(live) != 0 {
		t.Errorf("Expected no sticky left, got %v", live)
	}

	// no longer reposted
	mgr.OnMessage(ctx, "c1", false)
	if msgr.sends != 2 {
		t.Errorf("Expected no repost after clear, got %d sends", msgr.sends)
	}
}

func TestClearIgnoresDeleteFailure(t *testing.T) {
	msgr := newMockMessenger()
	mgr := NewManager(msgr, nil)
	ctx := context.Background()

	mgr.Set(ctx, "c1", "hello")
	msgr.deleteErr = errors.New("unknown message")
	if err := mgr.Clear(ctx, "c1"); err != nil {
		t.Errorf("Expected clear to succeed, got %v", err)
	}
	if _, ok := mgr.Get("c1"); ok {
		t.Error("Expected record removed")
	}
}

func TestBotMessagesIgnored(t *testing.T) {
	msgr := newMockMessenger()
	mgr := NewManager(msgr, nil)
	ctx := context.Background()

	mgr.Set(ctx, "c1", "hello")
	mgr.OnMessage(ctx, "c1", true)
	mgr.OnMessage(ctx, "other", false)

	if msgr.sends != 1 || msgr.deletes != 0 {
		t.Errorf("Expected only the initial post, got %d sends %d deletes", msgr.sends, msgr.deletes)
	}
}

func TestSetFailureRegistersNothing(t *testing.T) {
	msgr := newMockMessenger()
	msgr.sendErr = errors.New("missing access")
	mgr := NewManager(msgr, nil)

	if err := mgr.Set(context.Background(), "c1", "hello"); err == nil {
		t.Fatal("Expected set to fail")
	}
	if _, ok := mgr.Get("c1"); ok {
		t.Error("Expected nothing registered")
	}
}

func TestRepostContinuesAfterDeleteFailure(t *testing.T) {
	msgr := newMockMessenger()
	mgr := NewManager(msgr, nil)
	ctx := context.Background()

	mgr.Set(ctx, "c1", "hello")
	msgr.mu.Lock()
	msgr.deleteErr = errors.New("already deleted by a moderator")
	msgr.mu.Unlock()

	if err := mgr.OnMessage(ctx, "c1", false); err != nil {
		t.Fatalf("Expected repost despite delete failure, got %v", err)
	}
	if msgr.sends != 2 {
		t.Errorf("Expected a repost, got %d sends", msgr.sends)
	}
}

func TestConcurrentMessagesSerialized(t *testing.T) {
	msgr := newMockMessenger()
	msgr.delay = time.Millisecond
	mgr := NewManager(msgr, nil)
	ctx := context.Background()

	mgr.Set(ctx, "c1", "Welcome!")
	mgr.Set(ctx, "c2", "Rules")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, ch := range []string{"c1", "c2"} {
			wg.Add(1)
			go func(ch string) {
				defer wg.Done()
				if err := mgr.OnMessage(ctx, ch, false); err != nil {
					t.Errorf("OnMessage(%s): %v", ch, err)
				}
			}(ch)
		}
	}
	wg.Wait()

	if msgr.overlaps != 0 {
		t.Errorf("Expected no overlapping operations per channel, got %d", msgr.overlaps)
	}
	for ch, want := range map[string]string{"c1": "Welcome!", "c2": "Rules"} {
		live := msgr.liveIn(ch)
		if len(live) != 1 {
			t.Errorf("Expected one live sticky in %s, got %v", ch, live)
		}
		rec, _ := mgr.Get(ch)
		if live[rec.MessageID] != want {
			t.Errorf("Record for %s does not point at the live message", ch)
		}
	}
	if msgr.sends != 42 {
		t.Errorf("Expected 42 sends, got %d", msgr.sends)
	}
}

func TestOnChannelDeleted(t *testing.T) {
	msgr := newMockMessenger()
	met := metrics.New()
	mgr := NewManager(msgr, met)
	ctx := context.Background()

	mgr.Set(ctx, "c1", "a")
	mgr.Set(ctx, "c2", "b")
	if !mgr.OnChannelDeleted("c1") {
		t.Fatal("Expected c1 removed")
	}
	if mgr.OnChannelDeleted("c1") {
		t.Error("Expected second removal to report false")
	}
	if got := testutil.ToFloat64(met.StickyActive); got != 1 {
		t.Errorf("Expected 1 active sticky, got %v", got)
	}
	if list := mgr.List(); len(list) != 1 || list[0].ChannelID != "c2" {
		t.Errorf("Unexpected list %+v", list)
	}
}
