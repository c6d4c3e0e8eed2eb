package rules

import "github.com/detbox-dev/detbox/internal/code"

// AllRules returns the full set of rules, in application order.
func AllRules() []Rule {
	return []Rule{
		DisallowOverriddenSandboxPackage{},
		DisallowSandboxInstructions{},
		DisallowUnsupportedAPIVersions{},
	}
}

// AllDefinitionProviders returns the full set of definition providers, in
// application order.
func AllDefinitionProviders() []code.DefinitionProvider {
	return []code.DefinitionProvider{
		AlwaysUseNonSynchronizedMethods{},
		AlwaysUseStrictFloatingPointArithmetic{},
		StaticConstantRemover{},
		StubOutFinalizerMethods{},
		StubOutNativeMethods{},
	}
}

// AllEmitters returns the full set of emitters. The sandbox orders them by
// priority before use.
func AllEmitters() []code.Emitter {
	return []code.Emitter{
		AlwaysUseExactMath{},
		DisallowDynamicInvocation{},
		DisallowNonDeterministicMethods{},
		IgnoreBreakpoints{},
		IgnoreSynchronizedBlocks{},
		TraceAllocations{},
		TraceInvocations{},
		TraceJumps{},
		TraceThrows{},
	}
}
