package migration

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rflorenc/ipam-migrator/internal/models"
	"github.com/rflorenc/ipam-migrator/internal/platform/netbox"
	"github.com/rflorenc/ipam-migrator/internal/platform/phpipam"
	"go.uber.org/zap"
)

// refs maps parent names to target IDs for the lifetime of one run.
// pending holds names a dry run would have created; they have no ID.
type refs struct {
	ids     map[models.Kind]map[string]int
	pending map[models.Kind]map[string]bool
	vlans   map[string]int // phpIPAM vlanId → NetBox VLAN id
	slugs   map[models.Kind]map[string]bool
	// inlineVRFs are VRFs created and counted while migrating prefixes or
	// addresses; the VRF pass leaves them out.
	inlineVRFs map[string]bool
}

func newRefs() *refs {
	return &refs{
		ids:     make(map[models.Kind]map[string]int),
		pending: make(map[models.Kind]map[string]bool),
		vlans:   make(map[string]int),
		slugs:   make(map[models.Kind]map[string]bool),

		inlineVRFs: make(map[string]bool),
	}
}

// remember stores the outcome for a named parent. id 0 marks it pending.
func (r *refs) remember(kind models.Kind, name string, id int) {
	if id == 0 {
		if r.pending[kind] == nil {
			r.pending[kind] = make(map[string]bool)
		}
		r.pending[kind][name] = true
		return
	}
	if r.ids[kind] == nil {
		r.ids[kind] = make(map[string]int)
	}
	r.ids[kind][name] = id
}

func (r *refs) lookup(kind models.Kind, name string) (id int, known, pending bool) {
	if id, ok := r.ids[kind][name]; ok {
		return id, true, false
	}
	return 0, false, r.pending[kind][name]
}

// uniqueSlug returns slug, or slug-N when slug was already used in this run.
func (r *refs) uniqueSlug(kind models.Kind, slug string) string {
	used := r.slugs[kind]
	if used == nil {
		used = make(map[string]bool)
		r.slugs[kind] = used
	}
	candidate := slug
	for n := 1; used[candidate]; n++ {
		suffix := "-" + strconv.Itoa(n)
		base := slug
		if len(base)+len(suffix) > maxSlug {
			base = base[:maxSlug-len(suffix)]
		}
		candidate = base + suffix
	}
	used[candidate] = true
	return candidate
}

// parentID resolves a named parent to its target ID, consulting the run
// cache first. A nil ID with a nil error means the parent is pending in a dry
// run, or absent.
func (m *Migrator) parentID(ctx context.Context, kind models.Kind, name string) (*int, bool, error) {
	if id, known, pending := m.refs.lookup(kind, name); known || pending {
		if pending {
			return nil, true, nil
		}
		return &id, true, nil
	}
	id, found, err := m.find(ctx, kind, url.Values{"name": {name}})
	if err != nil {
		return nil, false, fmt.Errorf("looking up %s %q: %w", kind, name, err)
	}
	if !found {
		return nil, false, nil
	}
	m.refs.remember(kind, name, id)
	return &id, true, nil
}

// siteScope resolves a prefix's site. A site missing from the target leaves
// the prefix unscoped.
func (m *Migrator) siteScope(ctx context.Context, p *netbox.Prefix) error {
	if p.SiteName == "" {
		return nil
	}
	id, ok, err := m.parentID(ctx, models.KindSites, p.SiteName)
	if err != nil {
		return err
	}
	if !ok {
		if !m.warned[p.SiteName] {
			m.warned[p.SiteName] = true
			m.logger.Warn(fmt.Sprintf("  site %q not found in target; prefixes for it are imported unscoped", p.SiteName))
		}
		return nil
	}
	if id != nil {
		p.ScopeType = netbox.ScopeSite
		p.ScopeID = id
	}
	return nil
}

// vlanGroup resolves a VLAN's group.
func (m *Migrator) vlanGroup(ctx context.Context, v *netbox.VLAN) error {
	if v.GroupName == "" {
		return nil
	}
	id, ok, err := m.parentID(ctx, models.KindVLANGroups, v.GroupName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("VLAN group %q not found in target", v.GroupName)
	}
	v.Group = id
	return nil
}

// ensureVRF finds a VRF by name and creates it when missing. Dry runs only
// note that it would be created.
func (m *Migrator) ensureVRF(ctx context.Context, name string) (*int, error) {
	if name == "" {
		return nil, nil
	}
	id, ok, err := m.parentID(ctx, models.KindVRFs, name)
	if err != nil || ok {
		return id, err
	}

	if m.opts.DryRun {
		m.logger.Info(fmt.Sprintf("  [DRY] would create VRF: %s", name), zap.String("kind", string(models.KindVRFs)))
		m.refs.remember(models.KindVRFs, name, 0)
		return nil, nil
	}

	rec := vrfRecord(name, "", "")
	src, found := m.catalog.vrfByName(name)
	if found {
		rec = vrfRecord(name, src.RD.String(), src.Description.String())
	}
	created, err := m.create(ctx, models.KindVRFs, rec)
	if err != nil {
		return nil, fmt.Errorf("creating VRF %q: %w", name, err)
	}
	m.logger.Info(fmt.Sprintf("  CREATED: VRF %s (ID %d)", name, created), zap.String("kind", string(models.KindVRFs)))
	m.refs.remember(models.KindVRFs, name, created)
	m.refs.inlineVRFs[name] = true
	m.tally(models.Result{
		Kind:     models.KindVRFs,
		SourceID: src.SourceID(),
		Key:      name,
		Outcome:  models.OutcomeCreated,
		TargetID: created,
	})
	return &created, nil
}

// vrfByName finds the phpIPAM VRF a target VRF name came from.
func (c *Catalog) vrfByName(name string) (phpipam.VRF, bool) {
	for _, v := range c.VRFs {
		if clip(v.Name.String(), maxName) == name {
			return v, true
		}
	}
	return phpipam.VRF{}, false
}
