// Package policy models the account-level EMR block public access setting
// managed by the access guard.
package policy

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
)

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Min int32 `json:"min"`
	Max int32 `json:"max"`
}

// Single returns a range covering exactly one port.
func Single(port int32) PortRange {
	return PortRange{Min: port, Max: port}
}

func (r PortRange) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(int(r.Min))
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Valid reports whether the range is a usable TCP port range.
func (r PortRange) Valid() bool {
	return r.Min >= 0 && r.Max <= 65535 && r.Min <= r.Max
}

// AccessPolicy is the public access restriction applied to every EMR
// security group in the account and region.
type AccessPolicy struct {
	BlockPublicRules  bool        `json:"blockPublicSecurityGroupRules"`
	AllowedPortRanges []PortRange `json:"permittedPublicPortRanges"`
}

// Default returns the fixed policy: blocking enabled, with SSH, HTTP and
// HTTPS left open for the notebook proxy. A fresh value is returned on
// every call so callers may not share or mutate it.
func Default() AccessPolicy {
	return AccessPolicy{
		BlockPublicRules: true,
		AllowedPortRanges: []PortRange{
			Single(22),
			Single(80),
			Single(443),
		},
	}
}

// Validate rejects malformed port ranges.
func (p AccessPolicy) Validate() error {
	for _, r := range p.AllowedPortRanges {
		if !r.Valid() {
			return fmt.Errorf("invalid port range %d-%d", r.Min, r.Max)
		}
	}
	return nil
}

// PortList renders the allowed ranges as a comma separated list, e.g.
// "22,80,443".
func (p AccessPolicy) PortList() string {
	parts := make([]string, 0, len(p.AllowedPortRanges))
	for _, r := range p.AllowedPortRanges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

// Equal compares two policies, treating the port ranges as a set.
func (p AccessPolicy) Equal(other AccessPolicy) bool {
	if p.BlockPublicRules != other.BlockPublicRules {
		return false
	}
	a := sortedRanges(p.AllowedPortRanges)
	b := sortedRanges(other.AllowedPortRanges)
	return slices.Equal(a, b)
}

// Diff describes how actual differs from p. Empty when they are equal.
func (p AccessPolicy) Diff(actual AccessPolicy) []string {
	var diffs []string
	if p.BlockPublicRules != actual.BlockPublicRules {
		diffs = append(diffs, fmt.Sprintf("blockPublicSecurityGroupRules: want %t, got %t",
			p.BlockPublicRules, actual.BlockPublicRules))
	}

	want := sortedRanges(p.AllowedPortRanges)
	got := sortedRanges(actual.AllowedPortRanges)
	for _, r := range want {
		if !slices.Contains(got, r) {
			diffs = append(diffs, fmt.Sprintf("missing permitted range %s", r))
		}
	}
	for _, r := range got {
		if !slices.Contains(want, r) {
			diffs = append(diffs, fmt.Sprintf("unexpected permitted range %s", r))
		}
	}
	return diffs
}

// ToEMR converts the policy to the EMR API shape.
func (p AccessPolicy) ToEMR() *emrtypes.BlockPublicAccessConfiguration {
	ranges := make([]emrtypes.PortRange, 0, len(p.AllowedPortRanges))
	for _, r := range p.AllowedPortRanges {
		ranges = append(ranges, emrtypes.PortRange{
			MinRange: aws.Int32(r.Min),
			MaxRange: aws.Int32(r.Max),
		})
	}
	return &emrtypes.BlockPublicAccessConfiguration{
		BlockPublicSecurityGroupRules:          aws.Bool(p.BlockPublicRules),
		PermittedPublicSecurityGroupRuleRanges: ranges,
	}
}

// FromEMR converts an EMR configuration back to an AccessPolicy. A range
// without an upper bound covers the single port named by its lower bound.
func FromEMR(cfg *emrtypes.BlockPublicAccessConfiguration) AccessPolicy {
	if cfg == nil {
		return AccessPolicy{}
	}
	out := AccessPolicy{
		BlockPublicRules: aws.ToBool(cfg.BlockPublicSecurityGroupRules),
	}
	for _, r := range cfg.PermittedPublicSecurityGroupRuleRanges {
		lo := aws.ToInt32(r.MinRange)
		hi := lo
		if r.MaxRange != nil {
			hi = aws.ToInt32(r.MaxRange)
		}
		out.AllowedPortRanges = append(out.AllowedPortRanges, PortRange{Min: lo, Max: hi})
	}
	return out
}

func sortedRanges(in []PortRange) []PortRange {
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b PortRange) int {
		if a.Min != b.Min {
			return int(a.Min - b.Min)
		}
		return int(a.Max - b.Max)
	})
	return slices.Compact(out)
}
