package gas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrNoPresetSource = errors.New("gas: preset source not configured")

// OptimalClient fetches the recommended gas preset from an external service.
type OptimalClient struct {
	url        string
	httpClient *http.Client
}

func NewOptimalClient(url string) *OptimalClient {
	return &OptimalClient{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *OptimalClient) Optimal(ctx context.Context) (Preset, error) {
	if c == nil || c.url == "" {
		return Preset{}, ErrNoPresetSource
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Preset{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Preset{}, fmt.Errorf("gas preset request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Preset{}, fmt.Errorf("gas preset: status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p Preset
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Preset{}, fmt.Errorf("gas preset decode: %w", err)
	}
	if !p.Fee.IsPositive() || p.PriorityFee.IsNegative() {
		return Preset{}, fmt.Errorf("gas preset: invalid values fee=%s priority=%s", p.Fee, p.PriorityFee)
	}
	return p, nil
}
