package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/classfile"
)

// DisallowUnsupportedAPIVersions rejects classes whose format version falls
// outside the configuration's supported range.
type DisallowUnsupportedAPIVersions struct{}

func (DisallowUnsupportedAPIVersions) Validate(ctx Context) error {
	if ctx.Member != nil {
		return nil
	}
	if ctx.Class.Version == "" {
		return errors.New("class format version is missing")
	}
	constraint, err := semver.NewConstraint(ctx.Analysis.SupportedVersions())
	if err != nil {
		return fmt.Errorf("invalid supported version range %q: %w", ctx.Analysis.SupportedVersions(), err)
	}
	v, err := semver.NewVersion(ctx.Class.Version)
	if err != nil {
		return fmt.Errorf("invalid class format version %q", ctx.Class.Version)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("class format version %s is not supported (%s)", ctx.Class.Version, ctx.Analysis.SupportedVersions())
	}
	return nil
}

// DisallowOverriddenSandboxPackage rejects classes that declare themselves
// inside the sandbox or runtime namespace.
type DisallowOverriddenSandboxPackage struct{}

func (DisallowOverriddenSandboxPackage) Validate(ctx Context) error {
	if ctx.Member != nil {
		return nil
	}
	if ctx.Analysis.IsSandboxed(ctx.Class.Name) || analysis.IsPinned(ctx.Class.Name) {
		return errors.New("cannot load class explicitly defined in the sandbox namespace")
	}
	return nil
}

// DisallowSandboxInstructions rejects method bodies that reach into the
// sandbox or runtime namespace directly.
type DisallowSandboxInstructions struct{}

func (DisallowSandboxInstructions) Validate(ctx Context) error {
	if ctx.Member == nil || ctx.Member.Code == nil {
		return nil
	}
	internal := func(name string) bool {
		if strings.HasPrefix(name, "[") {
			name = strings.TrimSuffix(strings.TrimPrefix(strings.TrimLeft(name, "["), "L"), ";")
		}
		return ctx.Analysis.IsSandboxed(name) || analysis.IsPinned(name)
	}
	for _, in := range ctx.Member.Code.Instructions {
		if internal(in.Owner) || ((in.Op == classfile.OpNew || in.Op == classfile.OpCheckCast) && internal(in.Str)) {
			return fmt.Errorf("access to sandbox internals is not allowed: %s", in)
		}
	}
	return nil
}
