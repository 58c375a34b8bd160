package migration

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/rflorenc/ipam-migrator/internal/mapping"
	"github.com/rflorenc/ipam-migrator/internal/platform/netbox"
	"github.com/rflorenc/ipam-migrator/internal/platform/phpipam"
)

// NetBox field limits.
const (
	maxName        = 100
	maxVLANName    = 64
	maxDescription = 200
	maxDNSName     = 255
	maxSlug        = 50
)

const defaultSiteDescription = "Imported from phpIPAM"

// Rejection is returned by the mappers when a source record cannot become a
// target record. It is reported as a skip, never as a failure.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// Catalog holds the phpIPAM lookups built once before any entity runs.
type Catalog struct {
	Sections map[string]string      // section id → name
	VRFs     map[string]phpipam.VRF // vrfId → VRF
	Domains  map[string]string      // l2 domain id → name
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Sections: make(map[string]string),
		VRFs:     make(map[string]phpipam.VRF),
		Domains:  make(map[string]string),
	}
}

// vrfName resolves a phpIPAM vrfId; unset or unknown ids mean the global table.
func (c *Catalog) vrfName(id phpipam.Flex) string {
	if !id.Set() {
		return ""
	}
	return clip(c.VRFs[id.String()].Name.String(), maxName)
}

// MapSection turns a phpIPAM section into a NetBox site, renaming it through
// the mapping table.
func MapSection(s phpipam.Section, table mapping.Table) (netbox.Site, error) {
	name := s.Name.String()
	if name == "" {
		return netbox.Site{}, reject("empty section name")
	}
	site, res := table.Lookup(name)
	switch res {
	case mapping.NoSite:
		return netbox.Site{}, reject("maps to no site: section %q", name)
	case mapping.Missing:
		return netbox.Site{}, reject("no mapping entry: section %q", name)
	}
	desc := clip(s.Description.String(), maxDescription)
	if desc == "" {
		desc = defaultSiteDescription
	}
	site = siteName(site)
	return netbox.Site{
		Name:        site,
		Slug:        MakeSlug(site, "site"),
		Status:      "active",
		Description: desc,
	}, nil
}

// siteName is the target site name for a mapped section. Sites and the
// prefixes scoped to them must agree on it.
func siteName(mapped string) string {
	return clip(mapped, maxName)
}

// MapL2Domain turns a layer-2 domain into a VLAN group.
func MapL2Domain(d phpipam.L2Domain) (netbox.VLANGroup, error) {
	name := d.Name.String()
	if name == "" {
		return netbox.VLANGroup{}, reject("empty l2 domain name")
	}
	name = clip(name, maxName)
	return netbox.VLANGroup{
		Name:        name,
		Slug:        MakeSlug(name, "vlan-group"),
		Description: clip(d.Description.String(), maxDescription),
	}, nil
}

// MapVLAN turns a phpIPAM VLAN into a NetBox VLAN. The group is carried by
// name; the driver resolves it.
func MapVLAN(v phpipam.VLAN, cat *Catalog) (netbox.VLAN, error) {
	vid, err := strconv.Atoi(v.Number.String())
	if err != nil || vid < 1 || vid > 4094 {
		return netbox.VLAN{}, reject("invalid VLAN number: %q", v.Number.String())
	}
	name := v.Name.String()
	if name == "" {
		name = fmt.Sprintf("vlan-%d", vid)
	}
	out := netbox.VLAN{
		VID:         vid,
		Name:        clip(name, maxVLANName),
		Status:      "active",
		Description: clip(v.Description.String(), maxDescription),
	}
	if v.DomainID.Set() {
		out.GroupName = cat.Domains[v.DomainID.String()]
	}
	return out, nil
}

// MapSubnet turns a phpIPAM subnet into a NetBox prefix. Site and VRF are
// carried by name. A section with no site leaves the prefix unscoped, unless
// requireSite is set.
func MapSubnet(s phpipam.Subnet, cat *Catalog, table mapping.Table, requireSite bool) (netbox.Prefix, error) {
	if s.IsFolder.Bool() || s.Subnet.String() == "" {
		return netbox.Prefix{}, reject("folder: not an address range")
	}
	p, err := netip.ParsePrefix(s.Subnet.String() + "/" + s.Mask.String())
	if err != nil {
		return netbox.Prefix{}, reject("invalid prefix: %s/%s", s.Subnet.String(), s.Mask.String())
	}

	out := netbox.Prefix{
		Prefix:       p.Masked().String(),
		Status:       "active",
		Description:  clip(s.Description.String(), maxDescription),
		IsPool:       s.IsPool.Bool() || s.IsFull.Bool(),
		MarkUtilized: s.IsFull.Bool(),
		VRFName:      cat.vrfName(s.VRFID),
	}
	if s.VLANID.Set() {
		out.SourceVLAN = s.VLANID.String()
	}

	section, ok := cat.Sections[s.SectionID.String()]
	if ok {
		site, res := table.Lookup(section)
		if res == mapping.Mapped {
			out.SiteName = siteName(site)
		}
	}
	if out.SiteName == "" && requireSite {
		if !ok {
			return netbox.Prefix{}, reject("no site scope: unknown section %s", s.SectionID.String())
		}
		return netbox.Prefix{}, reject("no site scope: section %q", section)
	}
	return out, nil
}

// MapAddress turns a phpIPAM address into a host-length NetBox address. The
// VRF comes from the subnet the address was listed under.
func MapAddress(a phpipam.Address, vrfName string) (netbox.IPAddress, error) {
	raw := a.IP.String()
	if raw == "" {
		return netbox.IPAddress{}, reject("address without ip")
	}
	ip, err := netip.ParseAddr(raw)
	if err != nil {
		return netbox.IPAddress{}, reject("invalid ip: %q", raw)
	}
	ip = ip.Unmap()
	bits := 32
	if ip.Is6() {
		bits = 128
	}
	hostname := a.Hostname.String()
	desc := a.Description.String()
	if desc == "" {
		desc = hostname
	}
	return netbox.IPAddress{
		Address:     netip.PrefixFrom(ip, bits).String(),
		Host:        ip.String(),
		Status:      addressStatus(a.Tag),
		Description: clip(desc, maxDescription),
		DNSName:     clip(hostname, maxDNSName),
		VRFName:     vrfName,
	}, nil
}

// addressStatus maps the phpIPAM address tag onto a NetBox status.
func addressStatus(tag phpipam.Flex) string {
	switch tag.String() {
	case "1":
		return "deprecated"
	case "3":
		return "reserved"
	case "4":
		return "dhcp"
	}
	return "active"
}

// MapVRF turns a phpIPAM VRF into a NetBox VRF.
func MapVRF(v phpipam.VRF) (netbox.VRF, error) {
	name := v.Name.String()
	if name == "" {
		return netbox.VRF{}, reject("empty VRF name")
	}
	return vrfRecord(name, v.RD.String(), v.Description.String()), nil
}

func vrfRecord(name, rd, description string) netbox.VRF {
	out := netbox.VRF{
		Name:        clip(name, maxName),
		Description: clip(description, maxDescription),
	}
	if rd != "" {
		out.RD = &rd
	}
	return out
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// MakeSlug builds a NetBox slug from a name. fallback is used when nothing
// valid remains.
func MakeSlug(name, fallback string) string {
	slug := strings.ToLower(name)
	slug = strings.NewReplacer(" ", "-", "_", "-").Replace(slug)
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = slugDashes.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = fallback
	}
	if len(slug) > maxSlug {
		slug = strings.TrimRight(slug[:maxSlug], "-")
	}
	return slug
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
