package execution

import "fmt"

// Resources tracked by a CostAccounter.
const (
	Allocation = "allocation"
	Invocation = "invocation"
	Jump       = "jump"
	Throw      = "throw"
)

// ResourceExceededError is returned once a task uses more of a resource than
// its profile allows.
type ResourceExceededError struct {
	Resource  string
	Threshold int64
}

func (e *ResourceExceededError) Error() string {
	return fmt.Sprintf("%s cost exceeded threshold of %d", e.Resource, e.Threshold)
}

// Costs is a snapshot of a CostAccounter's counters.
type Costs struct {
	Allocations int64
	Invocations int64
	Jumps       int64
	Throws      int64
}

// CostAccounter counts resource use for one task. It is confined to the
// task's goroutine.
type CostAccounter struct {
	profile Profile
	costs   Costs
}

// NewCostAccounter creates an accounter enforcing p.
func NewCostAccounter(p Profile) *CostAccounter {
	return &CostAccounter{profile: p}
}

// Profile returns the enforced profile.
func (a *CostAccounter) Profile() Profile { return a.profile }

// Costs returns the current counters.
func (a *CostAccounter) Costs() Costs { return a.costs }

func (a *CostAccounter) RecordAllocation() error {
	return record(&a.costs.Allocations, a.profile.AllocationCostThreshold, Allocation)
}

func (a *CostAccounter) RecordInvocation() error {
	return record(&a.costs.Invocations, a.profile.InvocationCostThreshold, Invocation)
}

func (a *CostAccounter) RecordJump() error {
	return record(&a.costs.Jumps, a.profile.JumpCostThreshold, Jump)
}

func (a *CostAccounter) RecordThrow() error {
	return record(&a.costs.Throws, a.profile.ThrowCostThreshold, Throw)
}

func record(counter *int64, threshold int64, resource string) error {
	if *counter >= threshold {
		return &ResourceExceededError{Resource: resource, Threshold: threshold}
	}
	*counter++
	return nil
}
