// Package phpipam reads inventory from the phpIPAM REST API.
package phpipam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rflorenc/ipam-migrator/internal/platform"
	"github.com/rflorenc/ipam-migrator/internal/retry"
	"go.uber.org/zap"
)

// TokenHeader is the header phpIPAM reads app tokens from.
const TokenHeader = "token"

// envelope is the standard phpIPAM response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type record interface {
	SourceID() string
	Validate() error
}

// Client lists phpIPAM records. It never writes.
type Client struct {
	api      *platform.Client
	pageSize int
	retry    retry.Policy
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize enables offset/limit paging. Zero fetches each listing in one
// request, which is what stock phpIPAM does.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithRetry retries listing requests that fail transiently.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps a platform client configured for phpIPAM.
func NewClient(api *platform.Client, opts ...Option) *Client {
	c := &Client{api: api, retry: retry.Policy{Attempts: 1}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check verifies connectivity and the app token.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.fetch(ctx, "sections/", nil)
	if errors.Is(err, platform.ErrNotFound) {
		return nil
	}
	return err
}

// Sections lists all sections.
func (c *Client) Sections(ctx context.Context) iter.Seq2[Section, error] {
	return list[Section](ctx, c, "sections/")
}

// L2Domains lists all layer-2 domains.
func (c *Client) L2Domains(ctx context.Context) iter.Seq2[L2Domain, error] {
	return list[L2Domain](ctx, c, "l2domains/")
}

// VLANs lists all VLANs.
func (c *Client) VLANs(ctx context.Context) iter.Seq2[VLAN, error] {
	return list[VLAN](ctx, c, "vlans/")
}

// Subnets lists all subnets and folders.
func (c *Client) Subnets(ctx context.Context) iter.Seq2[Subnet, error] {
	return list[Subnet](ctx, c, "subnets/")
}

// SubnetAddresses lists the addresses inside one subnet.
func (c *Client) SubnetAddresses(ctx context.Context, subnetID string) iter.Seq2[Address, error] {
	return list[Address](ctx, c, "subnets/"+url.PathEscape(subnetID)+"/addresses/")
}

// VRFs lists all VRFs. Instances with VRFs disabled answer 404, which yields
// an empty sequence.
func (c *Client) VRFs(ctx context.Context) iter.Seq2[VRF, error] {
	return list[VRF](ctx, c, "vrfs/")
}

// list lazily walks a listing endpoint page by page. A 404 ends the listing
// without error; phpIPAM uses it both for "no records" and for disabled
// features. Servers that ignore offset/limit return the whole listing every
// time: a page longer than the limit, or one that starts where the previous
// page started, ends the walk.
func list[T record](ctx context.Context, c *Client, path string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		offset := 0
		prevFirst := ""
		for {
			var params url.Values
			if c.pageSize > 0 {
				params = url.Values{
					"offset": {strconv.Itoa(offset)},
					"limit":  {strconv.Itoa(c.pageSize)},
				}
			}
			items, err := c.fetch(ctx, path, params)
			if errors.Is(err, platform.ErrNotFound) {
				return
			}
			if err != nil {
				yield(zero, err)
				return
			}
			if len(items) > 0 {
				first := rawID(items[0])
				if offset > 0 && first != "" && first == prevFirst {
					return
				}
				prevFirst = first
			}
			for _, raw := range items {
				var rec T
				if err := json.Unmarshal(raw, &rec); err != nil {
					if !yield(zero, &platform.ValidationError{SourceID: rawID(raw), Err: err}) {
						return
					}
					continue
				}
				if err := rec.Validate(); err != nil {
					if !yield(zero, &platform.ValidationError{SourceID: rec.SourceID(), Err: err}) {
						return
					}
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
			if c.pageSize <= 0 || len(items) != c.pageSize {
				return
			}
			offset += len(items)
		}
	}
}

// fetch performs one GET and unwraps the phpIPAM envelope.
func (c *Client) fetch(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	var body []byte
	p := c.retry
	p.Notify = func(attempt int, err error) {
		c.logger.Warn("phpIPAM request failed, retrying",
			zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
	}
	err := retry.Do(ctx, p, platform.IsTransient, func(ctx context.Context) error {
		var err error
		body, err = c.api.Get(ctx, path, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing phpIPAM response from %s: %w", path, err)
	}
	if !env.Success {
		return nil, envelopeError(path, env)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, fmt.Errorf("phpIPAM %s: expected a list in data: %w", path, err)
	}
	return items, nil
}

// envelopeError maps a success:false envelope delivered with a 2xx status.
func envelopeError(path string, env envelope) error {
	msg := env.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &platform.StatusError{Method: http.MethodGet, Path: path, Status: envelopeStatus(env.Code), Body: msg}
}

func envelopeStatus(code int) int {
	if code >= 400 {
		return code
	}
	return http.StatusBadRequest
}

// rawID digs out whichever primary key a malformed record still carries.
func rawID(raw json.RawMessage) string {
	var ids struct {
		ID     json.RawMessage `json:"id"`
		VLANID json.RawMessage `json:"vlanId"`
		VRFID  json.RawMessage `json:"vrfId"`
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return ""
	}
	for _, v := range []json.RawMessage{ids.ID, ids.VLANID, ids.VRFID} {
		var f Flex
		if len(v) > 0 && f.UnmarshalJSON(v) == nil && f.Set() {
			return f.String()
		}
	}
	return ""
}
