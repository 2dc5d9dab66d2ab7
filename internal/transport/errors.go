package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// ErrUnavailable marks transient transport failures: rate limits, Discord
// server errors and a closed gateway connection.
var ErrUnavailable = errors.New("chat transport unavailable")

// Classify wraps transient errors so callers can test them with
// errors.Is(err, ErrUnavailable). Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}

	return errors.Is(err, discordgo.ErrWSNotFound) || errors.Is(err, context.DeadlineExceeded)
}
