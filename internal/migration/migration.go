// Package migration copies phpIPAM inventory into NetBox. Every entity type
// runs as an idempotent create-if-absent pass, in a fixed order so later
// types can reference earlier ones.
package migration

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/rflorenc/ipam-migrator/internal/mapping"
	"github.com/rflorenc/ipam-migrator/internal/metrics"
	"github.com/rflorenc/ipam-migrator/internal/models"
	"github.com/rflorenc/ipam-migrator/internal/platform"
	"github.com/rflorenc/ipam-migrator/internal/platform/netbox"
	"github.com/rflorenc/ipam-migrator/internal/platform/phpipam"
	"github.com/rflorenc/ipam-migrator/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Source is the read side of a migration.
type Source interface {
	Check(ctx context.Context) error
	Sections(ctx context.Context) iter.Seq2[phpipam.Section, error]
	L2Domains(ctx context.Context) iter.Seq2[phpipam.L2Domain, error]
	VLANs(ctx context.Context) iter.Seq2[phpipam.VLAN, error]
	Subnets(ctx context.Context) iter.Seq2[phpipam.Subnet, error]
	SubnetAddresses(ctx context.Context, subnetID string) iter.Seq2[phpipam.Address, error]
	VRFs(ctx context.Context) iter.Seq2[phpipam.VRF, error]
}

// StatusChecker is implemented by targets that can report their version.
type StatusChecker interface {
	Status(ctx context.Context) (string, error)
}

// Options control one run.
type Options struct {
	DryRun           bool
	BatchSize        int
	RequestDelay     time.Duration
	Retry            retry.Policy
	RequireSiteScope bool
	// Entities limits the run to these kinds. Empty means all of them.
	Entities []models.Kind
	Mapping  mapping.Table
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// Migrator runs one migration. It is not safe for concurrent use; the run it
// reports into is.
type Migrator struct {
	source  Source
	target  Target
	run     *models.Run
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Collector
	limiter *rate.Limiter

	catalog *Catalog
	refs    *refs
	seen    seenKeys
	warned  map[string]bool
}

// New creates a Migrator that reports into run.
func New(source Source, target Target, run *models.Run, opts Options) *Migrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}
	return &Migrator{
		source:  source,
		target:  target,
		run:     run,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		limiter: rate.NewLimiter(limit, 1),
		catalog: NewCatalog(),
		refs:    newRefs(),
		seen:    make(seenKeys),
		warned:  make(map[string]bool),
	}
}

// Run performs the migration and finishes the run. The returned error is
// non-nil only when the run stopped early: an authentication failure, a
// failed preflight, or cancellation. The summary is valid either way.
func (m *Migrator) Run(ctx context.Context) (models.Summary, error) {
	err := m.migrateAll(ctx)
	switch {
	case err == nil:
		m.run.Complete()
	case ctx.Err() != nil:
		m.logger.Warn("Migration interrupted; re-running is safe, existing records are skipped")
		m.run.Interrupt()
	default:
		m.logger.Error("Migration aborted", zap.Error(err))
		m.run.Fail(err.Error())
	}
	return m.run.Summary(), err
}

func (m *Migrator) migrateAll(ctx context.Context) error {
	mode := "LIVE MIGRATION"
	if m.opts.DryRun {
		mode = "DRY-RUN (no changes will be made)"
	}
	m.logger.Info("Mode: "+mode, zap.String("run_id", m.run.ID))

	if err := m.preflight(ctx); err != nil {
		return err
	}
	if err := m.buildCatalog(ctx); err != nil {
		return err
	}

	for _, kind := range models.Kinds {
		if len(m.opts.Entities) > 0 && !slices.Contains(m.opts.Entities, kind) {
			continue
		}
		if err := m.migrateKind(ctx, kind); err != nil {
			return err
		}
	}

	created, skipped, failed := m.run.Summary().Totals()
	m.logger.Info(fmt.Sprintf("Migration complete: %d created, %d skipped, %d failed", created, skipped, failed))
	return nil
}

// preflight checks both systems before anything is written.
func (m *Migrator) preflight(ctx context.Context) error {
	m.logger.Info("Checking source connectivity...")
	if err := m.source.Check(ctx); err != nil {
		return fmt.Errorf("source connection failed: %w", err)
	}
	m.logger.Info("Source OK")

	if sc, ok := m.target.(StatusChecker); ok {
		m.logger.Info("Checking destination connectivity...")
		version, err := sc.Status(ctx)
		if err != nil {
			return fmt.Errorf("destination connection failed: %w", err)
		}
		m.logger.Info("Destination OK: NetBox " + version)
	}
	return nil
}

// buildCatalog fetches the phpIPAM lookups used to resolve parents by name.
// A lookup that cannot be listed is left empty; only auth failures abort.
func (m *Migrator) buildCatalog(ctx context.Context) error {
	m.logger.Info("Building lookup caches...")
	cat := m.catalog
	if err := fill(ctx, m, "sections", m.source.Sections(ctx), func(s phpipam.Section) {
		cat.Sections[s.SourceID()] = s.Name.String()
	}); err != nil {
		return err
	}
	if err := fill(ctx, m, "VRFs", m.source.VRFs(ctx), func(v phpipam.VRF) {
		cat.VRFs[v.SourceID()] = v
	}); err != nil {
		return err
	}
	if err := fill(ctx, m, "L2 domains", m.source.L2Domains(ctx), func(d phpipam.L2Domain) {
		cat.Domains[d.SourceID()] = d.Name.String()
	}); err != nil {
		return err
	}
	return nil
}

func fill[S sourceRecord](ctx context.Context, m *Migrator, what string, records iter.Seq2[S, error], add func(S)) error {
	n := 0
	for rec, err := range records {
		if err != nil {
			if fatal(ctx, err) {
				return err
			}
			if errors.Is(err, platform.ErrValidation) {
				continue
			}
			m.logger.Warn(fmt.Sprintf("Failed to cache %s: %v", what, err))
			break
		}
		add(rec)
		n++
	}
	m.logger.Info(fmt.Sprintf("Cached %d %s", n, what))
	return nil
}

func (m *Migrator) migrateKind(ctx context.Context, kind models.Kind) error {
	switch kind {
	case models.KindSites:
		return migrate(ctx, m, m.sites(ctx))
	case models.KindVLANGroups:
		return migrate(ctx, m, m.vlanGroups(ctx))
	case models.KindVLANs:
		return migrate(ctx, m, m.vlans(ctx))
	case models.KindPrefixes:
		return migrate(ctx, m, m.prefixes(ctx))
	case models.KindAddresses:
		return migrate(ctx, m, m.addresses(ctx))
	case models.KindVRFs:
		return migrate(ctx, m, m.vrfs(ctx))
	}
	return fmt.Errorf("unsupported entity type %q", kind)
}

func (m *Migrator) sites(ctx context.Context) entity[phpipam.Section, netbox.Site] {
	return entity[phpipam.Section, netbox.Site]{
		kind:    models.KindSites,
		records: m.source.Sections(ctx),
		mapRecord: func(s phpipam.Section) (netbox.Site, error) {
			return MapSection(s, m.opts.Mapping)
		},
		prepare: func(rec *netbox.Site) {
			rec.Slug = m.refs.uniqueSlug(models.KindSites, rec.Slug)
		},
		done: func(_ phpipam.Section, rec netbox.Site, id int) {
			m.refs.remember(models.KindSites, rec.Name, id)
		},
	}
}

func (m *Migrator) vlanGroups(ctx context.Context) entity[phpipam.L2Domain, netbox.VLANGroup] {
	return entity[phpipam.L2Domain, netbox.VLANGroup]{
		kind:      models.KindVLANGroups,
		records:   m.source.L2Domains(ctx),
		mapRecord: MapL2Domain,
		prepare: func(rec *netbox.VLANGroup) {
			rec.Slug = m.refs.uniqueSlug(models.KindVLANGroups, rec.Slug)
		},
		done: func(_ phpipam.L2Domain, rec netbox.VLANGroup, id int) {
			m.refs.remember(models.KindVLANGroups, rec.Name, id)
		},
	}
}

func (m *Migrator) vlans(ctx context.Context) entity[phpipam.VLAN, netbox.VLAN] {
	return entity[phpipam.VLAN, netbox.VLAN]{
		kind:    models.KindVLANs,
		records: m.source.VLANs(ctx),
		mapRecord: func(v phpipam.VLAN) (netbox.VLAN, error) {
			return MapVLAN(v, m.catalog)
		},
		resolve: m.vlanGroup,
		done: func(src phpipam.VLAN, _ netbox.VLAN, id int) {
			if id != 0 {
				m.refs.vlans[src.SourceID()] = id
			}
		},
	}
}

func (m *Migrator) prefixes(ctx context.Context) entity[phpipam.Subnet, netbox.Prefix] {
	return entity[phpipam.Subnet, netbox.Prefix]{
		kind:    models.KindPrefixes,
		records: m.source.Subnets(ctx),
		mapRecord: func(s phpipam.Subnet) (netbox.Prefix, error) {
			return MapSubnet(s, m.catalog, m.opts.Mapping, m.opts.RequireSiteScope)
		},
		resolve: func(ctx context.Context, p *netbox.Prefix) error {
			vrf, err := m.ensureVRF(ctx, p.VRFName)
			if err != nil {
				return err
			}
			p.VRF = vrf
			if err := m.siteScope(ctx, p); err != nil {
				return err
			}
			if id, ok := m.refs.vlans[p.SourceVLAN]; ok {
				p.VLAN = &id
			}
			return nil
		},
	}
}

// subnetAddress is an address together with the VRF of the subnet it was
// listed under.
type subnetAddress struct {
	phpipam.Address
	vrf string
}

func (m *Migrator) addresses(ctx context.Context) entity[subnetAddress, netbox.IPAddress] {
	return entity[subnetAddress, netbox.IPAddress]{
		kind:    models.KindAddresses,
		records: m.subnetAddresses(ctx),
		mapRecord: func(a subnetAddress) (netbox.IPAddress, error) {
			return MapAddress(a.Address, a.vrf)
		},
		resolve: func(ctx context.Context, a *netbox.IPAddress) error {
			vrf, err := m.ensureVRF(ctx, a.VRFName)
			if err != nil {
				return err
			}
			a.VRF = vrf
			return nil
		},
	}
}

// subnetAddresses walks every subnet and yields the addresses inside it.
// Subnets that fail validation were already reported by the prefix pass.
func (m *Migrator) subnetAddresses(ctx context.Context) iter.Seq2[subnetAddress, error] {
	return func(yield func(subnetAddress, error) bool) {
		for subnet, err := range m.source.Subnets(ctx) {
			if err != nil {
				if errors.Is(err, platform.ErrValidation) {
					continue
				}
				yield(subnetAddress{}, err)
				return
			}
			if subnet.IsFolder.Bool() {
				continue
			}
			vrf := m.catalog.vrfName(subnet.VRFID)
			for addr, err := range m.source.SubnetAddresses(ctx, subnet.SourceID()) {
				if !yield(subnetAddress{Address: addr, vrf: vrf}, err) {
					return
				}
			}
		}
	}
}

func (m *Migrator) vrfs(ctx context.Context) entity[phpipam.VRF, netbox.VRF] {
	return entity[phpipam.VRF, netbox.VRF]{
		kind:      models.KindVRFs,
		records:   m.pendingVRFs(m.source.VRFs(ctx)),
		mapRecord: MapVRF,
		done: func(_ phpipam.VRF, rec netbox.VRF, id int) {
			m.refs.remember(models.KindVRFs, rec.Name, id)
		},
	}
}

// pendingVRFs drops VRFs already created and counted inline.
func (m *Migrator) pendingVRFs(records iter.Seq2[phpipam.VRF, error]) iter.Seq2[phpipam.VRF, error] {
	return func(yield func(phpipam.VRF, error) bool) {
		for v, err := range records {
			if err == nil && m.refs.inlineVRFs[clip(v.Name.String(), maxName)] {
				continue
			}
			if !yield(v, err) {
				return
			}
		}
	}
}
