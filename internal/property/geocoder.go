package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoMatch is returned by a Geocoder that found no coordinates for an address.
var ErrNoMatch = errors.New("address did not match any location")

// Geocoder turns a postal address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat, lng float64, err error)
}

// GeocoderFunc adapts a function to Geocoder.
type GeocoderFunc func(ctx context.Context, address string) (float64, float64, error)

func (f GeocoderFunc) Geocode(ctx context.Context, address string) (float64, float64, error) {
	return f(ctx, address)
}

// RateLimitedGeocoder throttles calls to the wrapped geocoder. Callers block until a
// token is available or ctx is done.
type RateLimitedGeocoder struct {
	next    Geocoder
	limiter *rate.Limiter
}

func NewRateLimitedGeocoder(next Geocoder, perSecond float64, burst int) *RateLimitedGeocoder {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &RateLimitedGeocoder{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (g *RateLimitedGeocoder) Geocode(ctx context.Context, address string) (float64, float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, 0, fmt.Errorf("geocoder rate limit: %w", err)
	}
	return g.next.Geocode(ctx, address)
}

// HTTPGeocoder queries a Nominatim-compatible search endpoint.
type HTTPGeocoder struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

func NewHTTPGeocoder(endpoint, userAgent string, timeout time.Duration) *HTTPGeocoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGeocoder{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (float64, float64, error) {
	query := url.Values{}
	query.Set("q", address)
	query.Set("format", "json")
	query.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build geocode request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to geocode %q: %w", address, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocoder returned %s for %q", resp.Status, address)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return 0, 0, fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	if len(places) == 0 {
		return 0, 0, fmt.Errorf("%q: %w", address, ErrNoMatch)
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", places[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", places[0].Lon, err)
	}
	return lat, lng, nil
}

// GeocodeIssue describes a geocoding failure. It never fails the write that
// triggered it.
type GeocodeIssue struct {
	Address string
	Err     error
}

func (i GeocodeIssue) Message() string {
	return fmt.Sprintf("could not geocode %q: %v", i.Address, i.Err)
}
