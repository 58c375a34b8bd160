package phpipam

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Flex decodes a phpIPAM scalar. The API returns the same field as a string,
// a number or null depending on version and backend, so everything is kept as
// its string form.
type Flex string

func (f *Flex) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = Flex(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", truncate(string(b), 40))
	}
	*f = Flex(n.String())
	return nil
}

// String returns the trimmed value.
func (f Flex) String() string {
	return strings.TrimSpace(string(f))
}

// Set reports whether the field carries a meaningful value. phpIPAM uses "0"
// for unset foreign keys.
func (f Flex) Set() bool {
	s := f.String()
	return s != "" && s != "0"
}

// Bool interprets phpIPAM's "1"/"0" flags.
func (f Flex) Bool() bool {
	switch strings.ToLower(f.String()) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Section is a phpIPAM section.
type Section struct {
	ID          Flex `json:"id"`
	Name        Flex `json:"name"`
	Description Flex `json:"description"`
}

func (s Section) SourceID() string { return s.ID.String() }

func (s Section) Validate() error {
	if !s.ID.Set() {
		return errors.New("section without id")
	}
	return nil
}

// L2Domain is a phpIPAM layer-2 domain, which groups VLANs.
type L2Domain struct {
	ID          Flex `json:"id"`
	Name        Flex `json:"name"`
	Description Flex `json:"description"`
}

func (d L2Domain) SourceID() string { return d.ID.String() }

func (d L2Domain) Validate() error {
	if !d.ID.Set() {
		return errors.New("l2 domain without id")
	}
	return nil
}

// VLAN is a phpIPAM VLAN. Its primary key is vlanId; the tag is number.
type VLAN struct {
	ID          Flex `json:"vlanId"`
	DomainID    Flex `json:"domainId"`
	Name        Flex `json:"name"`
	Number      Flex `json:"number"`
	Description Flex `json:"description"`
}

func (v VLAN) SourceID() string { return v.ID.String() }

func (v VLAN) Validate() error {
	if !v.ID.Set() {
		return errors.New("vlan without vlanId")
	}
	return nil
}

// Subnet is a phpIPAM subnet or folder.
type Subnet struct {
	ID          Flex `json:"id"`
	Subnet      Flex `json:"subnet"`
	Mask        Flex `json:"mask"`
	SectionID   Flex `json:"sectionId"`
	Description Flex `json:"description"`
	VRFID       Flex `json:"vrfId"`
	VLANID      Flex `json:"vlanId"`
	IsFolder    Flex `json:"isFolder"`
	IsPool      Flex `json:"isPool"`
	IsFull      Flex `json:"isFull"`
}

func (s Subnet) SourceID() string { return s.ID.String() }

func (s Subnet) Validate() error {
	if !s.ID.Set() {
		return errors.New("subnet without id")
	}
	return nil
}

// Address is a phpIPAM IP address. Tag is the address state: 1 offline,
// 2 used, 3 reserved, 4 DHCP.
type Address struct {
	ID          Flex `json:"id"`
	IP          Flex `json:"ip"`
	Hostname    Flex `json:"hostname"`
	Description Flex `json:"description"`
	Tag         Flex `json:"tag"`
}

func (a Address) SourceID() string { return a.ID.String() }

func (a Address) Validate() error {
	if !a.ID.Set() {
		return errors.New("address without id")
	}
	return nil
}

// VRF is a phpIPAM VRF. Its primary key is vrfId.
type VRF struct {
	ID          Flex `json:"vrfId"`
	Name        Flex `json:"name"`
	RD          Flex `json:"rd"`
	Description Flex `json:"description"`
}

func (v VRF) SourceID() string { return v.ID.String() }

func (v VRF) Validate() error {
	if !v.ID.Set() {
		return errors.New("vrf without vrfId")
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
