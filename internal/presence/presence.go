// Package presence rotates the bot's visible activity on a fixed schedule.
package presence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NotiFansly/dashbot/internal/status"
)

type ActivityKind int

const (
	Playing ActivityKind = iota
	Watching
	Listening
	Competing
)

func (k ActivityKind) String() string {
	switch k {
	case Watching:
		return "watching"
	case Listening:
		return "listening"
	case Competing:
		return "competing"
	default:
		return "playing"
	}
}

// Activity is the rendered status pushed to the chat transport.
type Activity struct {
	Kind ActivityKind
	Name string
}

// Candidate is a status template. {guilds} and {users} are replaced with
// the current snapshot counts.
type Candidate struct {
	Kind     ActivityKind
	Template string
}

var DefaultCandidates = []Candidate{
	{Kind: Watching, Template: "{guilds} servers"},
	{Kind: Watching, Template: "over {users} members"},
	{Kind: Listening, Template: "/ticket open"},
	{Kind: Playing, Template: "with the dashboard"},
}

func Render(c Candidate, snap status.Snapshot) Activity {
	name := strings.NewReplacer(
		"{guilds}", strconv.Itoa(snap.GuildCount),
		"{users}", strconv.Itoa(snap.UserCount),
	).Replace(c.Template)
	return Activity{Kind: c.Kind, Name: name}
}

// Choose picks one candidate uniformly using intn and renders it against
// snap. It reports false when there are no candidates.
func Choose(candidates []Candidate, snap status.Snapshot, intn func(n int) int) (Activity, bool) {
	if len(candidates) == 0 {
		return Activity{}, false
	}
	return Render(candidates[intn(len(candidates))], snap), true
}

// ParseCandidates reads a comma separated list such as
// "watching:{guilds} servers,playing:with the dashboard". Entries without a
// known kind prefix are treated as playing.
func ParseCandidates(raw string) ([]Candidate, error) {
	var out []Candidate
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		kind := Playing
		text := entry
		if prefix, rest, ok := strings.Cut(entry, ":"); ok {
			if k, known := parseKind(prefix); known {
				kind = k
				text = strings.TrimSpace(rest)
			}
		}
		if text == "" {
			return nil, fmt.Errorf("presence entry %q has no text", entry)
		}
		out = append(out, Candidate{Kind: kind, Template: text})
	}
	return out, nil
}

func parseKind(s string) (ActivityKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playing":
		return Playing, true
	case "watching":
		return Watching, true
	case "listening":
		return Listening, true
	case "competing":
		return Competing, true
	}
	return Playing, false
}
