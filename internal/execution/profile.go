// Package execution runs sandboxed code and enforces the resource limits of
// an execution profile.
package execution

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Profile holds run-time resource thresholds. A counter may reach its
// threshold; the event that takes it past the threshold fails.
type Profile struct {
	Name                    string
	AllocationCostThreshold int64
	InvocationCostThreshold int64
	JumpCostThreshold       int64
	ThrowCostThreshold      int64
}

var (
	// DefaultProfile suits ordinary contract-style computations.
	DefaultProfile = Profile{
		Name:                    "default",
		AllocationCostThreshold: 1 << 30,
		InvocationCostThreshold: 1_000_000,
		JumpCostThreshold:       1_000_000,
		ThrowCostThreshold:      1_000_000,
	}

	// UnlimitedProfile never fails.
	UnlimitedProfile = Profile{
		Name:                    "unlimited",
		AllocationCostThreshold: math.MaxInt64,
		InvocationCostThreshold: math.MaxInt64,
		JumpCostThreshold:       math.MaxInt64,
		ThrowCostThreshold:      math.MaxInt64,
	}
)

var builtinProfiles = map[string]Profile{
	DefaultProfile.Name:   DefaultProfile,
	UnlimitedProfile.Name: UnlimitedProfile,
}

// ProfileByName resolves a built-in profile, or one of extra.
func ProfileByName(name string, extra ...Profile) (Profile, error) {
	for _, p := range extra {
		if p.Name == name {
			return p, nil
		}
	}
	if p, ok := builtinProfiles[strings.ToLower(name)]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("unknown execution profile %q (available: %s)", name, strings.Join(ProfileNames(extra...), ", "))
}

// ProfileNames lists the built-in profile names together with extra.
func ProfileNames(extra ...Profile) []string {
	names := make([]string, 0, len(builtinProfiles)+len(extra))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	for _, p := range extra {
		if _, ok := builtinProfiles[p.Name]; !ok {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate rejects profiles with negative thresholds.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("execution profile needs a name")
	}
	for _, th := range []struct {
		resource string
		value    int64
	}{
		{Allocation, p.AllocationCostThreshold},
		{Invocation, p.InvocationCostThreshold},
		{Jump, p.JumpCostThreshold},
		{Throw, p.ThrowCostThreshold},
	} {
		if th.value < 0 {
			return fmt.Errorf("profile %s: %s threshold must not be negative", p.Name, th.resource)
		}
	}
	return nil
}
