package netbox

import (
	"fmt"
	"net/url"
	"strconv"
)

// Record is a create payload with a natural key. NaturalKey returns the list
// filters that identify an existing copy; ok is false when a parent the key
// depends on does not exist yet, so no copy can exist either.
type Record interface {
	Key() string
	NaturalKey() (filters url.Values, ok bool)
}

// ScopeSite is the scope_type NetBox expects for site-scoped prefixes.
const ScopeSite = "dcim.site"

// Site is a dcim site.
type Site struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

func (s Site) Key() string { return s.Name }

func (s Site) NaturalKey() (url.Values, bool) {
	return url.Values{"name": {s.Name}}, true
}

// VLANGroup is an ipam VLAN group.
type VLANGroup struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
}

func (g VLANGroup) Key() string { return g.Name }

func (g VLANGroup) NaturalKey() (url.Values, bool) {
	return url.Values{"name": {g.Name}}, true
}

// VLAN is an ipam VLAN. GroupName is resolved into Group before lookup.
type VLAN struct {
	VID         int    `json:"vid"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	Group       *int   `json:"group,omitempty"`

	GroupName string `json:"-"`
}

func (v VLAN) Key() string {
	if v.GroupName == "" {
		return fmt.Sprintf("VLAN %d", v.VID)
	}
	return fmt.Sprintf("VLAN %d (group %s)", v.VID, v.GroupName)
}

func (v VLAN) NaturalKey() (url.Values, bool) {
	q := url.Values{"vid": {strconv.Itoa(v.VID)}}
	switch {
	case v.Group != nil:
		q.Set("group_id", strconv.Itoa(*v.Group))
	case v.GroupName != "":
		return nil, false
	default:
		q.Set("group_id", "null")
	}
	return q, true
}

// Prefix is an ipam prefix. The *Name fields are resolved into IDs before
// lookup; SourceVLAN is the phpIPAM vlanId the subnet pointed at.
type Prefix struct {
	Prefix       string `json:"prefix"`
	Status       string `json:"status"`
	Description  string `json:"description,omitempty"`
	IsPool       bool   `json:"is_pool"`
	MarkUtilized bool   `json:"mark_utilized"`
	VRF          *int   `json:"vrf,omitempty"`
	ScopeType    string `json:"scope_type,omitempty"`
	ScopeID      *int   `json:"scope_id,omitempty"`
	VLAN         *int   `json:"vlan,omitempty"`

	VRFName    string `json:"-"`
	SiteName   string `json:"-"`
	SourceVLAN string `json:"-"`
}

func (p Prefix) Key() string { return withVRF(p.Prefix, p.VRFName) }

func (p Prefix) NaturalKey() (url.Values, bool) {
	vrf, ok := vrfFilter(p.VRF, p.VRFName)
	if !ok {
		return nil, false
	}
	return url.Values{"prefix": {p.Prefix}, "vrf_id": {vrf}}, true
}

// IPAddress is an ipam IP address in CIDR form.
type IPAddress struct {
	Address     string `json:"address"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	DNSName     string `json:"dns_name,omitempty"`
	VRF         *int   `json:"vrf,omitempty"`

	// Host is the bare address; NetBox's address filter ignores the mask.
	Host    string `json:"-"`
	VRFName string `json:"-"`
}

func (a IPAddress) Key() string { return withVRF(a.Address, a.VRFName) }

func (a IPAddress) NaturalKey() (url.Values, bool) {
	vrf, ok := vrfFilter(a.VRF, a.VRFName)
	if !ok {
		return nil, false
	}
	host := a.Host
	if host == "" {
		host = a.Address
	}
	return url.Values{"address": {host}, "vrf_id": {vrf}}, true
}

// VRF is an ipam VRF.
type VRF struct {
	Name        string  `json:"name"`
	RD          *string `json:"rd,omitempty"`
	Description string  `json:"description,omitempty"`
}

func (v VRF) Key() string { return v.Name }

func (v VRF) NaturalKey() (url.Values, bool) {
	return url.Values{"name": {v.Name}}, true
}

func vrfFilter(id *int, name string) (string, bool) {
	switch {
	case id != nil:
		return strconv.Itoa(*id), true
	case name != "":
		return "", false
	}
	return "null", true
}

func withVRF(s, vrf string) string {
	if vrf == "" {
		return s
	}
	return s + " (vrf " + vrf + ")"
}
