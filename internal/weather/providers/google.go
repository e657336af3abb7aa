package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/kelvins/geocoder"

	"github.com/jhosuehag/clima-open/internal/weather"
)

// placeNamespace derives stable place ids from coordinates.
var placeNamespace = uuid.MustParse("6f1c2a8e-3b0d-4f7a-9d52-0e8a1c7b4f30")

// Messages kelvins/geocoder returns for non-OK statuses.
const (
	googleZeroResults = "No results found."
	googleOverQuota   = "You are over your quota."
)

// geocoderMu guards the package-level API key of kelvins/geocoder.
var geocoderMu sync.Mutex

// GoogleGeocoder implements weather.Geocoder with the Google geocoding API. It
// resolves a query to a single place.
type GoogleGeocoder struct {
	apiKey string
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey}
}

func (g *GoogleGeocoder) Search(ctx context.Context, query string) ([]weather.Place, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("google geocoder api key is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", weather.ErrNetworkUnavailable, err)
	}

	geocoderMu.Lock()
	defer geocoderMu.Unlock()
	geocoder.ApiKey = g.apiKey

	loc, err := geocoder.Geocoding(geocoder.Address{City: query})
	if err != nil {
		if err.Error() == googleZeroResults {
			return []weather.Place{}, nil
		}
		return nil, classifyGoogleError(err)
	}

	coord := weather.Coordinate{Latitude: loc.Latitude, Longitude: loc.Longitude}
	place := weather.Place{
		ID:         uuid.NewSHA1(placeNamespace, []byte(fmt.Sprintf("%f,%f", coord.Latitude, coord.Longitude))).String(),
		Name:       query,
		Coordinate: coord,
	}

	// Region and country are best effort.
	if addresses, err := geocoder.GeocodingReverse(loc); err == nil && len(addresses) > 0 {
		place.Region = addresses[0].State
		place.CountryCode = addresses[0].Country
		if addresses[0].City != "" {
			place.Name = addresses[0].City
		}
	}

	return []weather.Place{place}, nil
}

// classifyGoogleError keeps ErrNetworkUnavailable for transport failures.
func classifyGoogleError(err error) error {
	var (
		urlErr    *url.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &urlErr):
		return fmt.Errorf("%w: google geocoding: %v", weather.ErrNetworkUnavailable, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return fmt.Errorf("%w: google geocoding: %v", weather.ErrMalformed, err)
	case err.Error() == googleOverQuota:
		return &weather.APIError{Code: 429}
	default:
		return fmt.Errorf("google geocoding: %w", err)
	}
}
