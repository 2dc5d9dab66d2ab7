// Package verify runs the direct-message code challenge that members answer
// to prove they control their account.
package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/NotiFansly/dashbot/internal/metrics"
)

const DefaultTimeout = 60 * time.Second

var ErrAlreadyPending = errors.New("you already have a pending verification")

type State int

const (
	Pending State = iota
	Verified
	TimedOut
)

func (s State) String() string {
	switch s {
	case Verified:
		return "verified"
	case TimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// Messenger delivers challenge messages. Implemented by *transport.Discord.
type Messenger interface {
	OpenDM(ctx context.Context, userID string) (channelID string, err error)
	SendMessage(ctx context.Context, channelID, content string) (messageID string, err error)
}

// RoleGranter is optional; when set, verified members receive the configured role.
type RoleGranter interface {
	AddRole(ctx context.Context, guildID, userID, roleID string) error
}

type Challenge struct {
	GuildID   string
	UserID    string
	ChannelID string
	Code      string
	IssuedAt  time.Time
	State     State
}

// Handle is returned by Start and completes once the challenge resolves.
type Handle struct {
	done      chan struct{}
	challenge *Challenge
	timer     *time.Timer
}

// Done is closed when the challenge reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the resolved challenge, or false while it is still pending.
func (h *Handle) Result() (Challenge, bool) {
	select {
	case <-h.done:
		return *h.challenge, true
	default:
		return Challenge{}, false
	}
}

// Wait blocks until the challenge resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.done:
		c, _ := h.Result()
		return c.State, nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

type Flow struct {
	messenger Messenger
	roles     RoleGranter
	roleID    string
	timeout   time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
	newCode   func() (string, error)

	mu      sync.Mutex
	pending map[string]*Handle
}

func NewFlow(messenger Messenger, timeout time.Duration, m *metrics.Metrics) *Flow {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Flow{
		messenger: messenger,
		timeout:   timeout,
		metrics:   m,
		now:       time.Now,
		newCode:   generateCode,
		pending:   make(map[string]*Handle),
	}
}

// WithRole grants roleID to users who pass verification.
func (f *Flow) WithRole(granter RoleGranter, roleID string) *Flow {
	if granter != nil && roleID != "" {
		f.roles = granter
		f.roleID = roleID
	}
	return f
}

// Start issues a challenge to userID by direct message. The returned handle
// resolves through OnMessage or the timeout; Start itself never waits for
// the answer.
func (f *Flow) Start(ctx context.Context, guildID, userID string) (*Handle, error) {
	code, err := f.newCode()
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}

	h := &Handle{
		done: make(chan struct{}),
		challenge: &Challenge{
			GuildID:  guildID,
			UserID:   userID,
			Code:     code,
			IssuedAt: f.now(),
			State:    Pending,
		},
	}

	f.mu.Lock()
	if _, exists := f.pending[userID]; exists {
		f.mu.Unlock()
		return nil, ErrAlreadyPending
	}
	f.pending[userID] = h
	f.mu.Unlock()

	channelID, err := f.deliver(ctx, userID, code)
	if err != nil {
		f.discard(h)
		return nil, err
	}

	f.mu.Lock()
	if f.pending[userID] == h {
		h.challenge.ChannelID = channelID
		h.timer = time.AfterFunc(f.timeout, func() { f.resolve(h, TimedOut) })
	}
	f.mu.Unlock()

	log.Printf("Verification challenge issued to user %s in guild %s", userID, guildID)
	return h, nil
}

func (f *Flow) deliver(ctx context.Context, userID, code string) (string, error) {
	channelID, err := f.messenger.OpenDM(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("opening direct message: %w", err)
	}
	msg := fmt.Sprintf("Your verification code is **%s**. Reply here with the code within %s.", code, f.timeout)
	if _, err := f.messenger.SendMessage(ctx, channelID, msg); err != nil {
		return "", fmt.Errorf("sending verification code: %w", err)
	}
	return channelID, nil
}

func (f *Flow) discard(h *Handle) {
	f.mu.Lock()
	if f.pending[h.challenge.UserID] == h {
		delete(f.pending, h.challenge.UserID)
	}
	f.mu.Unlock()
}

// OnMessage feeds a direct message into the flow. It reports whether the
// message resolved a challenge. Messages that do not match the code exactly
// leave the challenge pending.
func (f *Flow) OnMessage(channelID, userID, content string) bool {
	f.mu.Lock()
	h, ok := f.pending[userID]
	matched := ok && h.timer != nil &&
		h.challenge.ChannelID == channelID &&
		h.challenge.Code == content
	f.mu.Unlock()

	if !matched {
		return false
	}
	return f.resolve(h, Verified)
}

// resolve moves h to a terminal state. Only the first caller for a handle wins.
func (f *Flow) resolve(h *Handle, outcome State) bool {
	c := h.challenge

	f.mu.Lock()
	if f.pending[c.UserID] != h {
		f.mu.Unlock()
		return false
	}
	delete(f.pending, c.UserID)
	if h.timer != nil {
		h.timer.Stop()
	}
	c.State = outcome
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	notice := "Verification timed out. Run /verify to try again."
	if outcome == Verified {
		notice = "You have been verified!"
		if f.roles != nil {
			if err := f.roles.AddRole(ctx, c.GuildID, c.UserID, f.roleID); err != nil {
				log.Printf("Error granting verified role to user %s in guild %s: %v", c.UserID, c.GuildID, err)
			}
		}
	}
	if _, err := f.messenger.SendMessage(ctx, c.ChannelID, notice); err != nil {
		log.Printf("Error sending verification %s notice to user %s: %v", outcome, c.UserID, err)
	}

	f.metrics.VerificationResolved(outcome.String())
	log.Printf("Verification for user %s resolved: %s", c.UserID, outcome)
	close(h.done)
	return true
}

// PendingCount returns the number of unresolved challenges.
func (f *Flow) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
