// Package netbox looks up and creates records through the NetBox REST API.
package netbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rflorenc/ipam-migrator/internal/models"
	"github.com/rflorenc/ipam-migrator/internal/platform"
)

// AuthHeader is the header NetBox reads API tokens from.
const AuthHeader = "Authorization"

// AuthValue formats a NetBox API token for AuthHeader.
func AuthValue(token string) string {
	return "Token " + token
}

var endpoints = map[models.Kind]string{
	models.KindSites:      "api/dcim/sites/",
	models.KindVLANGroups: "api/ipam/vlan-groups/",
	models.KindVLANs:      "api/ipam/vlans/",
	models.KindPrefixes:   "api/ipam/prefixes/",
	models.KindAddresses:  "api/ipam/ip-addresses/",
	models.KindVRFs:       "api/ipam/vrfs/",
}

// Endpoint returns the API path for a kind.
func Endpoint(kind models.Kind) (string, error) {
	path, ok := endpoints[kind]
	if !ok {
		return "", fmt.Errorf("no NetBox endpoint for %q", kind)
	}
	return path, nil
}

// listResponse is the standard NetBox paginated response envelope.
type listResponse struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

type idOnly struct {
	ID int `json:"id"`
}

// Client talks to one NetBox instance.
type Client struct {
	api *platform.Client
}

// NewClient wraps a platform client configured for NetBox.
func NewClient(api *platform.Client) *Client {
	return &Client{api: api}
}

// Find returns the ID of the first record of kind matching filters.
func (c *Client) Find(ctx context.Context, kind models.Kind, filters url.Values) (int, bool, error) {
	path, err := Endpoint(kind)
	if err != nil {
		return 0, false, err
	}
	params := url.Values{}
	for k, v := range filters {
		params[k] = v
	}
	params.Set("limit", "1")
	params.Set("brief", "1")

	var page listResponse
	if err := c.api.GetJSON(ctx, path, params, &page); err != nil {
		return 0, false, err
	}
	if len(page.Results) == 0 {
		return 0, false, nil
	}
	var res idOnly
	if err := json.Unmarshal(page.Results[0], &res); err != nil {
		return 0, false, fmt.Errorf("parsing %s result: %w", kind, err)
	}
	return res.ID, true, nil
}

// Create POSTs record and returns the new record's ID.
func (c *Client) Create(ctx context.Context, kind models.Kind, record any) (int, error) {
	path, err := Endpoint(kind)
	if err != nil {
		return 0, err
	}
	body, _, err := c.api.Post(ctx, path, record)
	if err != nil {
		return 0, err
	}
	var res idOnly
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("parsing created %s: %w", kind, err)
	}
	if res.ID == 0 {
		return 0, fmt.Errorf("created %s response has no id", kind)
	}
	return res.ID, nil
}
