package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cropsense/internal/types"
)

// reverseResult is one candidate place from the reverse geocoding provider.
type reverseResult struct {
	Name    string `json:"name"`
	Admin1  string `json:"admin1"`
	Country string `json:"country"`
}

// reverseResponse is the raw reverse geocoding payload.
type reverseResponse struct {
	Results []reverseResult `json:"results"`
}

// Geocoder resolves coordinates to a human-readable display name for newly
// registered fields. Lookups are best effort: a field with no display name is
// fully functional, so callers treat geocoder errors as non-fatal.
type Geocoder struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewGeocoder creates a reverse geocoding client.
func NewGeocoder(base *BaseClient, baseURL string, logger *slog.Logger) *Geocoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Geocoder{
		base:    base,
		baseURL: baseURL,
		logger:  logger,
	}
}

// ReverseLookup resolves a coordinate to a display name like
// "Brandenburg an der Havel, Brandenburg, Germany". Returns an empty string
// with no error when the provider has no result for the point.
func (g *Geocoder) ReverseLookup(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("count", "1")
	q.Set("language", "en")

	reqURL := fmt.Sprintf("%s/v1/reverse?%s", g.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "building reverse geocode request", err)
	}

	resp, err := g.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.WarnContext(ctx, "reverse geocode failed",
			"status", resp.StatusCode,
			"lat", lat,
			"lon", lon,
		)
		return "", types.NewAppError(
			types.ErrCodeUpstreamGeocoder,
			fmt.Sprintf("geocoder returned status %d", resp.StatusCode),
			nil,
		)
	}

	var payload reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamGeocoder, "decoding geocoder response", err)
	}

	if len(payload.Results) == 0 {
		return "", nil
	}
	return formatPlace(payload.Results[0]), nil
}

// formatPlace joins the non-empty components of a place, most specific first.
func formatPlace(r reverseResult) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Name, r.Admin1, r.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
