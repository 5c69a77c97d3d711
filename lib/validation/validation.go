// Package validation holds request validation helpers shared by the
// HTTP handlers.
package validation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// RatingScale is the upper bound of the application rating scale.
const RatingScale = 10.0

// ValidateRating checks a rating value against the half-star scale.
func ValidateRating(rating float64) error {
	if rating < 0.5 || rating > RatingScale {
		return fmt.Errorf("rating must be between 0.5 and %.0f", RatingScale)
	}
	return nil
}

// ValidateMediaType checks a media type discriminator.
func ValidateMediaType(mediaType string) error {
	if mediaType != "movie" && mediaType != "tv" {
		return fmt.Errorf("media_type must be %q or %q", "movie", "tv")
	}
	return nil
}

// ValidateID checks a positive integer identifier.
func ValidateID(name string, id int) error {
	if id <= 0 {
		return fmt.Errorf("%s must be a positive integer", name)
	}
	return nil
}

// ValidateLimit checks a result list size parameter.
func ValidateLimit(limit int) error {
	if limit < 1 || limit > 100 {
		return fmt.Errorf("limit must be between 1 and 100")
	}
	return nil
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	}); err != nil {
		slog.Error("Failed to encode error response", slog.Any("error", err))
	}
}
