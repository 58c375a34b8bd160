package netbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rflorenc/ipam-migrator/internal/models"
)

// StatusResponse holds the parts of /api/status/ the migrator cares about.
type StatusResponse struct {
	NetBoxVersion string `json:"netbox-version"`
}

// ParseStatusResponse extracts the version from an /api/status/ body.
func ParseStatusResponse(body []byte) (*StatusResponse, error) {
	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing status response: %w", err)
	}
	if resp.NetBoxVersion == "" {
		return nil, fmt.Errorf("status response missing netbox-version field")
	}
	return &resp, nil
}

// Status checks connectivity and the token, returning the NetBox version.
// /api/status/ is readable anonymously on some installs, so the token is
// confirmed with a sites lookup as well.
func (c *Client) Status(ctx context.Context) (string, error) {
	body, err := c.api.Get(ctx, "api/status/", nil)
	if err != nil {
		return "", err
	}
	resp, err := ParseStatusResponse(body)
	if err != nil {
		return "", err
	}
	if _, err := c.api.Get(ctx, endpoints[models.KindSites], url.Values{"limit": {"1"}}); err != nil {
		return "", err
	}
	return resp.NetBoxVersion, nil
}
