package migration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rflorenc/ipam-migrator/internal/mapping"
	"github.com/rflorenc/ipam-migrator/internal/metrics"
	"github.com/rflorenc/ipam-migrator/internal/models"
	"github.com/rflorenc/ipam-migrator/internal/platform"
	"github.com/rflorenc/ipam-migrator/internal/platform/netbox"
	"github.com/rflorenc/ipam-migrator/internal/platform/phpipam"
	"github.com/rflorenc/ipam-migrator/internal/retry"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeSource serves phpIPAM records from memory.
type fakeSource struct {
	sections  []phpipam.Section
	domains   []phpipam.L2Domain
	vlans     []phpipam.VLAN
	subnets   []phpipam.Subnet
	addresses map[string][]phpipam.Address
	vrfs      []phpipam.VRF
	checkErr  error
	// listErr is yielded after the records of the named listing.
	listErr map[string]error
}

func seq[T any](items []T, tail error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
		if tail != nil {
			var zero T
			yield(zero, tail)
		}
	}
}

func (s *fakeSource) Check(context.Context) error { return s.checkErr }
func (s *fakeSource) Sections(context.Context) iter.Seq2[phpipam.Section, error] {
	return seq(s.sections, s.listErr["sections"])
}
func (s *fakeSource) L2Domains(context.Context) iter.Seq2[phpipam.L2Domain, error] {
	return seq(s.domains, s.listErr["l2domains"])
}
func (s *fakeSource) VLANs(context.Context) iter.Seq2[phpipam.VLAN, error] {
	return seq(s.vlans, s.listErr["vlans"])
}
func (s *fakeSource) Subnets(context.Context) iter.Seq2[phpipam.Subnet, error] {
	return seq(s.subnets, s.listErr["subnets"])
}
func (s *fakeSource) SubnetAddresses(_ context.Context, id string) iter.Seq2[phpipam.Address, error] {
	return seq(s.addresses[id], nil)
}
func (s *fakeSource) VRFs(context.Context) iter.Seq2[phpipam.VRF, error] {
	return seq(s.vrfs, s.listErr["vrfs"])
}

type stored struct {
	id     int
	key    url.Values
	record any
}

// fakeTarget is an in-memory NetBox that matches lookups on exact filters.
type fakeTarget struct {
	records   map[models.Kind][]stored
	nextID    int
	creates   map[models.Kind]int
	finds     int
	createErr func(kind models.Kind, record any) error
	version   string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		records: make(map[models.Kind][]stored),
		creates: make(map[models.Kind]int),
		nextID:  100,
		version: "4.2.1",
	}
}

func (t *fakeTarget) Find(_ context.Context, kind models.Kind, filters url.Values) (int, bool, error) {
	t.finds++
	for _, r := range t.records[kind] {
		if maps.EqualFunc(r.key, filters, slices.Equal[[]string]) {
			return r.id, true, nil
		}
	}
	return 0, false, nil
}

func (t *fakeTarget) Create(_ context.Context, kind models.Kind, record any) (int, error) {
	t.creates[kind]++
	if t.createErr != nil {
		if err := t.createErr(kind, record); err != nil {
			return 0, err
		}
	}
	rec, ok := record.(netbox.Record)
	if !ok {
		return 0, fmt.Errorf("unexpected record type %T", record)
	}
	key, ok := rec.NaturalKey()
	if !ok {
		return 0, fmt.Errorf("created %s with unresolved parents: %+v", kind, record)
	}
	t.nextID++
	t.records[kind] = append(t.records[kind], stored{id: t.nextID, key: key, record: record})
	return t.nextID, nil
}

func (t *fakeTarget) Status(context.Context) (string, error) { return t.version, nil }

func (t *fakeTarget) totalCreates() int {
	n := 0
	for _, c := range t.creates {
		n += c
	}
	return n
}

func testOptions() Options {
	return Options{
		BatchSize: 2,
		Retry:     retry.Policy{Attempts: 3, Delay: time.Millisecond},
		Mapping:   mapping.Empty(),
		Metrics:   metrics.NewCollector(),
	}
}

func runMigration(t *testing.T, src Source, dst Target, opts Options) (models.Summary, *models.Run, error) {
	t.Helper()
	run := models.NewRun(opts.DryRun)
	summary, err := New(src, dst, run, opts).Run(context.Background())
	return summary, run, err
}

func entitySummary(t *testing.T, s models.Summary, k models.Kind) models.EntitySummary {
	t.Helper()
	e, ok := s.Entity(k)
	if !ok {
		t.Fatalf("no summary for %s", k)
	}
	return e
}

func fullSource() *fakeSource {
	return &fakeSource{
		sections: []phpipam.Section{
			{ID: "1", Name: "Default"},
			{ID: "2", Name: "Branch"},
		},
		domains: []phpipam.L2Domain{{ID: "1", Name: "default"}},
		vlans: []phpipam.VLAN{
			{ID: "7", DomainID: "1", Number: "100", Name: "servers"},
			{ID: "8", Number: "200"},
		},
		subnets: []phpipam.Subnet{
			{ID: "10", Subnet: "10.0.0.0", Mask: "24", SectionID: "1", VLANID: "7", VRFID: "3"},
			{ID: "11", Subnet: "10.0.1.0", Mask: "24", SectionID: "2"},
			{ID: "12", Subnet: "", IsFolder: "1", SectionID: "2"},
		},
		addresses: map[string][]phpipam.Address{
			"10": {{ID: "100", IP: "10.0.0.5", Hostname: "web1", Tag: "2"}},
			"11": {{ID: "101", IP: "10.0.1.9", Tag: "3"}},
		},
		vrfs: []phpipam.VRF{{ID: "3", Name: "blue", RD: "65000:1"}},
	}
}

func TestRun_SectionsExample(t *testing.T) {
	src := &fakeSource{sections: []phpipam.Section{
		{ID: "1", Name: "Default"},
		{ID: "2", Name: "Old Network"},
	}}
	dst := newFakeTarget()
	opts := testOptions()
	opts.Mapping = mapping.New(map[string]*string{"Default": ptr("Default"), "Old Network": nil})
	opts.Entities = []models.Kind{models.KindSites}

	summary, run, err := runMigration(t, src, dst, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sites := entitySummary(t, summary, models.KindSites)
	if sites.Created != 1 || sites.Skipped != 1 || sites.Failed != 0 {
		t.Errorf("sites = created %d skipped %d failed %d, want 1/1/0", sites.Created, sites.Skipped, sites.Failed)
	}
	if len(dst.records[models.KindSites]) != 1 {
		t.Fatalf("target has %d sites, want 1", len(dst.records[models.KindSites]))
	}
	if site := dst.records[models.KindSites][0].record.(netbox.Site); site.Name != "Default" || site.Slug != "default" {
		t.Errorf("created site = %+v", site)
	}
	if run.Status() != models.StatusCompleted {
		t.Errorf("status = %q, want completed", run.Status())
	}
}

func TestRun_FullMigrationResolvesParents(t *testing.T) {
	dst := newFakeTarget()
	summary, _, err := runMigration(t, fullSource(), dst, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[models.Kind][3]int{
		models.KindSites:      {2, 0, 0},
		models.KindVLANGroups: {1, 0, 0},
		models.KindVLANs:      {2, 0, 0},
		models.KindPrefixes:   {2, 1, 0},
		models.KindAddresses:  {2, 0, 0},
		models.KindVRFs:       {1, 0, 0},
	}
	for kind, w := range want {
		e := entitySummary(t, summary, kind)
		if got := [3]int{e.Created, e.Skipped, e.Failed}; got != w {
			t.Errorf("%s = %v, want %v", kind, got, w)
		}
	}
	var order []models.Kind
	for _, e := range summary.Entities {
		order = append(order, e.Kind)
	}
	if !slices.Equal(order, models.Kinds) {
		t.Errorf("order = %v, want %v", order, models.Kinds)
	}

	// VRF "blue" was created once, inline, while migrating prefixes.
	if n := len(dst.records[models.KindVRFs]); n != 1 {
		t.Fatalf("target has %d VRFs, want 1", n)
	}
	vrfID := dst.records[models.KindVRFs][0].id
	if rd := dst.records[models.KindVRFs][0].record.(netbox.VRF).RD; rd == nil || *rd != "65000:1" {
		t.Errorf("inline VRF should carry the source RD, got %v", rd)
	}

	siteID := dst.records[models.KindSites][0].id
	vlanID := dst.records[models.KindVLANs][0].id
	groupID := dst.records[models.KindVLANGroups][0].id

	if g := dst.records[models.KindVLANs][0].record.(netbox.VLAN).Group; g == nil || *g != groupID {
		t.Errorf("VLAN group = %v, want %d", g, groupID)
	}
	p := dst.records[models.KindPrefixes][0].record.(netbox.Prefix)
	if p.VRF == nil || *p.VRF != vrfID {
		t.Errorf("prefix VRF = %v, want %d", p.VRF, vrfID)
	}
	if p.ScopeType != netbox.ScopeSite || p.ScopeID == nil || *p.ScopeID != siteID {
		t.Errorf("prefix scope = %q %v, want dcim.site %d", p.ScopeType, p.ScopeID, siteID)
	}
	if p.VLAN == nil || *p.VLAN != vlanID {
		t.Errorf("prefix VLAN = %v, want %d", p.VLAN, vlanID)
	}
	a := dst.records[models.KindAddresses][0].record.(netbox.IPAddress)
	if a.Address != "10.0.0.5/32" || a.VRF == nil || *a.VRF != vrfID || a.DNSName != "web1" {
		t.Errorf("address = %+v", a)
	}
	if b := dst.records[models.KindAddresses][1].record.(netbox.IPAddress); b.VRF != nil || b.Status != "reserved" {
		t.Errorf("global address = %+v", b)
	}
}

func TestRun_Idempotent(t *testing.T) {
	dst := newFakeTarget()
	first, _, err := runMigration(t, fullSource(), dst, testOptions())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	createsAfterFirst := dst.totalCreates()

	second, _, err := runMigration(t, fullSource(), dst, testOptions())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if dst.totalCreates() != createsAfterFirst {
		t.Errorf("second run made %d creates, want 0", dst.totalCreates()-createsAfterFirst)
	}
	for _, e := range second.Entities {
		if e.Created != 0 || e.Failed != 0 {
			t.Errorf("%s second run: created %d failed %d", e.Kind, e.Created, e.Failed)
		}
		before, _ := first.Entity(e.Kind)
		if e.Processed != before.Processed {
			t.Errorf("%s processed %d, want %d", e.Kind, e.Processed, before.Processed)
		}
		if got, want := e.SkipReasons["already exists"], before.Created+before.SkipReasons["already exists"]; got != want {
			t.Errorf("%s already exists = %d, want %d", e.Kind, got, want)
		}
	}
}

func TestRun_DryRunMakesNoCreates(t *testing.T) {
	dst := newFakeTarget()
	opts := testOptions()
	opts.DryRun = true

	summary, _, err := runMigration(t, fullSource(), dst, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := dst.totalCreates(); n != 0 {
		t.Fatalf("dry run made %d creates", n)
	}
	created, _, failed := summary.Totals()
	if created == 0 || failed != 0 {
		t.Errorf("dry run totals: created %d failed %d", created, failed)
	}
	if !summary.DryRun {
		t.Error("summary should be marked dry run")
	}
	// The VRF is not created inline, so the VRF pass would still create it.
	if vrfs := entitySummary(t, summary, models.KindVRFs); vrfs.Created != 1 {
		t.Errorf("dry-run VRFs created = %d, want 1", vrfs.Created)
	}
}

func TestRun_InlineVRFCountedOnce(t *testing.T) {
	dst := newFakeTarget()
	live, _, err := runMigration(t, fullSource(), dst, testOptions())
	if err != nil {
		t.Fatalf("live Run: %v", err)
	}
	created, _, _ := live.Totals()
	if created != dst.totalCreates() {
		t.Errorf("summary created %d, target received %d creates", created, dst.totalCreates())
	}
	vrfs := entitySummary(t, live, models.KindVRFs)
	if vrfs.Created != 1 || vrfs.Processed != 1 {
		t.Errorf("live VRFs = created %d processed %d, want 1/1", vrfs.Created, vrfs.Processed)
	}

	opts := testOptions()
	opts.DryRun = true
	dry, _, err := runMigration(t, fullSource(), newFakeTarget(), opts)
	if err != nil {
		t.Fatalf("dry Run: %v", err)
	}
	for _, e := range live.Entities {
		if d := entitySummary(t, dry, e.Kind); d.Created != e.Created {
			t.Errorf("%s: dry run would create %d, live run created %d", e.Kind, d.Created, e.Created)
		}
	}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	dst := newFakeTarget()
	dst.createErr = func(kind models.Kind, record any) error {
		if p, ok := record.(netbox.Prefix); ok && p.Prefix == "10.0.0.0/24" {
			return &platform.StatusError{Method: http.MethodPost, Path: "api/ipam/prefixes/", Status: http.StatusBadRequest, Body: `{"prefix":["duplicate"]}`}
		}
		return nil
	}
	src := fullSource()
	src.subnets = append(src.subnets, phpipam.Subnet{ID: "13", Subnet: "10.0.2.0", Mask: "24"})

	summary, _, err := runMigration(t, src, dst, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	prefixes := entitySummary(t, summary, models.KindPrefixes)
	if prefixes.Created != 2 || prefixes.Failed != 1 {
		t.Errorf("prefixes = created %d failed %d, want 2/1", prefixes.Created, prefixes.Failed)
	}
	if len(prefixes.Failures) != 1 || prefixes.Failures[0].SourceID != "10" {
		t.Fatalf("failures = %+v", prefixes.Failures)
	}
	if !strings.Contains(prefixes.Failures[0].Reason, "HTTP 400") {
		t.Errorf("failure reason = %q", prefixes.Failures[0].Reason)
	}
	if dst.creates[models.KindPrefixes] != 3 {
		t.Errorf("validation errors must not be retried: %d prefix creates", dst.creates[models.KindPrefixes])
	}
}

func TestRun_RetryBound(t *testing.T) {
	dst := newFakeTarget()
	dst.createErr = func(models.Kind, any) error {
		return &platform.StatusError{Method: http.MethodPost, Path: "api/dcim/sites/", Status: http.StatusServiceUnavailable}
	}
	src := &fakeSource{sections: []phpipam.Section{{ID: "1", Name: "Default"}}}
	opts := testOptions()
	opts.Retry.Attempts = 4

	summary, _, err := runMigration(t, src, dst, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dst.creates[models.KindSites] != 4 {
		t.Errorf("create attempts = %d, want 4", dst.creates[models.KindSites])
	}
	sites := entitySummary(t, summary, models.KindSites)
	if sites.Failed != 1 || sites.Created != 0 {
		t.Errorf("sites = created %d failed %d, want 0/1", sites.Created, sites.Failed)
	}
}

func TestRun_AuthFailureStopsRun(t *testing.T) {
	dst := newFakeTarget()
	dst.createErr = func(models.Kind, any) error {
		return &platform.StatusError{Method: http.MethodPost, Path: "api/dcim/sites/", Status: http.StatusForbidden}
	}

	summary, run, err := runMigration(t, fullSource(), dst, testOptions())
	if !errors.Is(err, platform.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if dst.creates[models.KindSites] != 1 {
		t.Errorf("creates = %d, want 1 (auth errors are not retried)", dst.creates[models.KindSites])
	}
	if _, ok := summary.Entity(models.KindVLANs); ok {
		t.Error("no entity after the failure should have run")
	}
	if run.Status() != models.StatusFailed || summary.Error == "" {
		t.Errorf("status = %q, error = %q", run.Status(), summary.Error)
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	dst := newFakeTarget()
	src := fullSource()
	src.checkErr = &platform.StatusError{Method: http.MethodGet, Path: "sections/", Status: http.StatusUnauthorized}

	_, run, err := runMigration(t, src, dst, testOptions())
	if !errors.Is(err, platform.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if dst.finds != 0 || dst.totalCreates() != 0 {
		t.Errorf("target touched before preflight passed: %d finds, %d creates", dst.finds, dst.totalCreates())
	}
	if run.Status() != models.StatusFailed {
		t.Errorf("status = %q, want failed", run.Status())
	}
}

func TestRun_DuplicateNaturalKeys(t *testing.T) {
	src := &fakeSource{sections: []phpipam.Section{
		{ID: "1", Name: "East"},
		{ID: "2", Name: "West"},
	}}
	dst := newFakeTarget()
	opts := testOptions()
	opts.Mapping = mapping.New(map[string]*string{"East": ptr("Region"), "West": ptr("Region")})

	summary, _, err := runMigration(t, src, dst, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sites := entitySummary(t, summary, models.KindSites)
	if sites.Created != 1 || sites.Skipped != 1 {
		t.Errorf("sites = created %d skipped %d, want 1/1", sites.Created, sites.Skipped)
	}
	if sites.SkipReasons["duplicate"] != 1 {
		t.Errorf("skip reasons = %v", sites.SkipReasons)
	}
}

func TestRun_SlugCollisionsGetSuffix(t *testing.T) {
	src := &fakeSource{sections: []phpipam.Section{
		{ID: "1", Name: "Lab A"},
		{ID: "2", Name: "Lab_A"},
	}}
	dst := newFakeTarget()

	if _, _, err := runMigration(t, src, dst, testOptions()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var slugs []string
	for _, r := range dst.records[models.KindSites] {
		slugs = append(slugs, r.record.(netbox.Site).Slug)
	}
	if !slices.Equal(slugs, []string{"lab-a", "lab-a-1"}) {
		t.Errorf("slugs = %v", slugs)
	}
}

func TestRun_ListingErrors(t *testing.T) {
	src := fullSource()
	src.listErr = map[string]error{
		"vlans": &platform.ValidationError{SourceID: "99", Err: errors.New("bad number")},
		"vrfs":  fmt.Errorf("GET vrfs/: %w", platform.ErrTransient),
	}
	dst := newFakeTarget()

	summary, _, err := runMigration(t, src, dst, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	vlans := entitySummary(t, summary, models.KindVLANs)
	if vlans.Failed != 1 || vlans.Failures[0].SourceID != "99" {
		t.Errorf("vlans = %+v", vlans)
	}
	vrfs := entitySummary(t, summary, models.KindVRFs)
	if vrfs.Error == "" {
		t.Error("VRF listing error should be recorded on the entity")
	}
}

func TestRun_RequireSiteScope(t *testing.T) {
	src := fullSource()
	dst := newFakeTarget()
	opts := testOptions()
	opts.RequireSiteScope = true
	opts.Mapping = mapping.New(map[string]*string{"Default": ptr("Default"), "Branch": nil})

	summary, _, err := runMigration(t, src, dst, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	prefixes := entitySummary(t, summary, models.KindPrefixes)
	if prefixes.Created != 1 || prefixes.SkipReasons["no site scope"] != 1 {
		t.Errorf("prefixes = %+v", prefixes)
	}
	sites := entitySummary(t, summary, models.KindSites)
	if sites.SkipReasons["maps to no site"] != 1 {
		t.Errorf("sites skip reasons = %v", sites.SkipReasons)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dst := newFakeTarget()
	dst.createErr = func(kind models.Kind, _ any) error {
		if kind == models.KindSites {
			cancel()
		}
		return nil
	}
	run := models.NewRun(false)

	summary, err := New(fullSource(), dst, run, testOptions()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !summary.Interrupted || run.Status() != models.StatusInterrupted {
		t.Errorf("interrupted = %v, status = %q", summary.Interrupted, run.Status())
	}
	if dst.creates[models.KindSites] != 1 {
		t.Errorf("creates after cancel = %d, want 1", dst.creates[models.KindSites])
	}
}

func TestRun_ProgressAndLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	opts := testOptions()
	opts.Logger = zap.New(core)
	opts.BatchSize = 1

	if _, _, err := runMigration(t, fullSource(), newFakeTarget(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"  CREATED: Default", "Sites progress: 1 processed", "  SKIP: source record 12 (folder", "  CREATED: VRF blue"} {
		if logs.FilterMessageSnippet(want).Len() == 0 {
			t.Errorf("no log line containing %q", want)
		}
	}
}

func TestWriteReport(t *testing.T) {
	summary, _, err := runMigration(t, fullSource(), newFakeTarget(), testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	summary.Entities[0].Failures = []models.Result{{Kind: models.KindSites, SourceID: "9", Key: "Broken", Reason: "HTTP 400"}}

	var buf bytes.Buffer
	if err := WriteReport(&buf, summary); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Summary", "Entity", "IP Addresses", "Total", "folder: 1", "Sites failures:", "Broken"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteReportFile(path, summary); err != nil {
		t.Fatalf("WriteReportFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"run_id"`) {
		t.Errorf("report file = %s", data)
	}
}
