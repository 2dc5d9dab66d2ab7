// Package embed validates embed drafts and turns them into Discord embeds.
package embed

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/dashbot/internal/models"
)

const (
	MaxTitleLength       = 256
	MaxDescriptionLength = 4096
	DefaultColor         = 0x5865F2
)

var (
	hexColorRegex = regexp.MustCompile(`^#?([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)

	ErrInvalidColor = errors.New("invalid hex color, use a code such as #5865F2")
	ErrEmptyEmbed   = errors.New("an embed needs a title or a description")
)

// ParseColor parses "#RRGGBB", "RRGGBB" or the three digit shorthand. An
// empty string yields DefaultColor.
func ParseColor(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultColor, nil
	}

	m := hexColorRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrInvalidColor
	}
	hex := m[1]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}

	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0, ErrInvalidColor
	}
	return int(v), nil
}

// FormatColor renders c as "#RRGGBB".
func FormatColor(c int) string {
	return fmt.Sprintf("#%06X", c)
}

func Validate(d models.EmbedDraft) error {
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Description) == "" {
		return ErrEmptyEmbed
	}
	if n := len([]rune(d.Title)); n > MaxTitleLength {
		return fmt.Errorf("title is %d characters, the limit is %d", n, MaxTitleLength)
	}
	if n := len([]rune(d.Description)); n > MaxDescriptionLength {
		return fmt.Errorf("description is %d characters, the limit is %d", n, MaxDescriptionLength)
	}
	return nil
}

// Build converts a stored draft into a message embed.
func Build(d models.EmbedDraft) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       d.Title,
		Description: d.Description,
		Color:       d.Color,
	}
	if d.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: d.ImageURL}
	}
	if d.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: d.Footer}
	}
	if d.Author != "" {
		e.Author = &discordgo.MessageEmbedAuthor{Name: d.Author}
	}
	if d.Timestamp {
		created := d.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		e.Timestamp = created.Format(time.RFC3339)
	}
	return e
}
