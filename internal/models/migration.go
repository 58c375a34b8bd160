package models

import (
	"fmt"
	"strings"
)

// Kind names one migrated entity type.
type Kind string

const (
	KindSites      Kind = "sites"
	KindVLANGroups Kind = "vlan_groups"
	KindVLANs      Kind = "vlans"
	KindPrefixes   Kind = "prefixes"
	KindAddresses  Kind = "addresses"
	KindVRFs       Kind = "vrfs"
)

// Kinds lists every entity type in the order a run processes them. Later
// kinds reference earlier ones by natural key.
var Kinds = []Kind{KindSites, KindVLANGroups, KindVLANs, KindPrefixes, KindAddresses, KindVRFs}

// Label returns a human-readable name for log lines.
func (k Kind) Label() string {
	switch k {
	case KindSites:
		return "Sites"
	case KindVLANGroups:
		return "VLAN Groups"
	case KindVLANs:
		return "VLANs"
	case KindPrefixes:
		return "Prefixes"
	case KindAddresses:
		return "IP Addresses"
	case KindVRFs:
		return "VRFs"
	}
	return string(k)
}

// ParseKind accepts the canonical names plus a few obvious aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sites", "site", "sections":
		return KindSites, nil
	case "vlan_groups", "vlan-groups", "l2domains":
		return KindVLANGroups, nil
	case "vlans", "vlan":
		return KindVLANs, nil
	case "prefixes", "prefix", "subnets":
		return KindPrefixes, nil
	case "addresses", "ip_addresses", "ip-addresses", "ips":
		return KindAddresses, nil
	case "vrfs", "vrf":
		return KindVRFs, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Outcome is what happened to one source record.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result describes the migration of a single source record.
type Result struct {
	Kind     Kind    `json:"kind"`
	SourceID string  `json:"source_id"`
	Key      string  `json:"key,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
	TargetID int     `json:"target_id,omitempty"`
	// Simulated is set for dry-run creates.
	Simulated bool `json:"simulated,omitempty"`
}

// EntitySummary tallies the results for one entity type.
type EntitySummary struct {
	Kind        Kind           `json:"kind"`
	Processed   int            `json:"processed"`
	Created     int            `json:"created"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
	Failures    []Result       `json:"failures,omitempty"`
	// Error is set when the listing itself stopped early.
	Error string `json:"error,omitempty"`
}

// Add folds one result into the tallies.
func (s *EntitySummary) Add(r Result) {
	s.Processed++
	switch r.Outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeSkipped:
		s.Skipped++
		if s.SkipReasons == nil {
			s.SkipReasons = make(map[string]int)
		}
		s.SkipReasons[reasonClass(r.Reason)]++
	case OutcomeFailed:
		s.Failed++
		s.Failures = append(s.Failures, r)
	}
}

// reasonClass trims record-specific detail so similar skips group together.
func reasonClass(reason string) string {
	if i := strings.Index(reason, ":"); i > 0 {
		return reason[:i]
	}
	return reason
}

// Summary is the durable outcome of a run.
type Summary struct {
	RunID       string          `json:"run_id"`
	DryRun      bool            `json:"dry_run"`
	Interrupted bool            `json:"interrupted,omitempty"`
	Error       string          `json:"error,omitempty"`
	Entities    []EntitySummary `json:"entities"`
}

// Totals sums the outcome counts across every entity type.
func (s Summary) Totals() (created, skipped, failed int) {
	for _, e := range s.Entities {
		created += e.Created
		skipped += e.Skipped
		failed += e.Failed
	}
	return created, skipped, failed
}

// Entity returns the summary for one kind, if it ran.
func (s Summary) Entity(k Kind) (EntitySummary, bool) {
	for _, e := range s.Entities {
		if e.Kind == k {
			return e, true
		}
	}
	return EntitySummary{}, false
}
