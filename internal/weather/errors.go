package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLocalData is returned by a cache-only read when nothing is cached.
	ErrNoLocalData = errors.New("no local weather data")
	// ErrNotFound is returned by metadata updates on a missing entity.
	ErrNotFound = errors.New("location not found")
	// ErrNetworkUnavailable covers transport failures and open circuits.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrMalformed is returned when a provider response has an unexpected shape.
	ErrMalformed = errors.New("malformed provider response")
	// ErrInvalidOrder is returned by Reorder when the order does not list every
	// stored location exactly once.
	ErrInvalidOrder = errors.New("order must list every saved location once")
	// ErrAlreadyTracked is returned by InsertAtTop when another entry already
	// follows the device position.
	ErrAlreadyTracked = errors.New("current position already tracked")
)

// APIError is a non-success HTTP status returned by a provider.
type APIError struct {
	Code int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error: status %d", e.Code)
}

// Retriable reports whether the request may succeed if repeated.
func (e *APIError) Retriable() bool {
	return e.Code == 429 || e.Code >= 500
}

// UserMessage maps an error to a short human-readable message.
func UserMessage(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoLocalData):
		return "No local data and remote update disabled."
	case errors.Is(err, ErrNotFound):
		return "No saved location found to update."
	case errors.Is(err, ErrInvalidOrder):
		return "The new order must include every saved location once."
	case errors.Is(err, ErrNetworkUnavailable):
		return "No internet connection."
	case errors.As(err, &apiErr):
		return fmt.Sprintf("API error: %d", apiErr.Code)
	case errors.Is(err, ErrMalformed):
		return "Unexpected response from weather service."
	default:
		return "Error: " + err.Error()
	}
}
