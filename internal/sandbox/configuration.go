// Package sandbox assembles everything a sandboxed execution needs: the
// analysis boundary, the rewrite policies, the bytecode cache and the
// execution profile.
package sandbox

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/code"
	"github.com/detbox-dev/detbox/internal/execution"
	"github.com/detbox-dev/detbox/internal/rewiring"
	"github.com/detbox-dev/detbox/internal/rules"
)

// Options configures Of.
type Options struct {
	Analysis *analysis.Configuration // Required

	Profile             execution.Profile         // Zero value selects execution.DefaultProfile
	Rules               []rules.Rule              // nil selects rules.AllRules()
	Emitters            []code.Emitter            // nil selects rules.AllEmitters()
	DefinitionProviders []code.DefinitionProvider // nil selects rules.AllDefinitionProviders()
	DisableTracing      bool                      // Drop emitters at or below code.PriorityTracing

	Logger *zap.Logger
}

// Configuration is immutable. It is shared by every task that runs in the
// sandbox, and by every child derived from it for rules, emitters,
// providers and profile.
type Configuration struct {
	parent    *Configuration
	analysis  *analysis.Configuration
	profile   execution.Profile
	rules     []rules.Rule
	emitters  []code.Emitter
	providers []code.DefinitionProvider
	ruleSet   string
	cache     *rewiring.ByteCodeCache
	generator *rewiring.Generator
	logger    *zap.Logger
}

// Of builds a root sandbox configuration.
func Of(opts Options) (*Configuration, error) {
	if opts.Analysis == nil {
		return nil, errors.New("sandbox configuration needs an analysis configuration")
	}
	profile := opts.Profile
	if profile == (execution.Profile{}) {
		profile = execution.DefaultProfile
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	rs := opts.Rules
	if rs == nil {
		rs = rules.AllRules()
	}
	ps := opts.DefinitionProviders
	if ps == nil {
		ps = rules.AllDefinitionProviders()
	}
	es := opts.Emitters
	if es == nil {
		es = rules.AllEmitters()
	}
	es = code.SortEmitters(es)
	if opts.DisableTracing {
		es = code.FilterTracing(es)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Configuration{
		analysis:  opts.Analysis,
		profile:   profile,
		rules:     append([]rules.Rule(nil), rs...),
		emitters:  es,
		providers: append([]code.DefinitionProvider(nil), ps...),
		ruleSet:   rewiring.Fingerprint(opts.Analysis.Prefix(), rs, ps, es),
		cache:     rewiring.CreateFor(opts.Analysis),
		logger:    logger,
	}
	c.generator = c.newGenerator()
	return c, nil
}

// CreateFor builds a configuration with the default policy sets.
func CreateFor(a *analysis.Configuration, profile execution.Profile, enableTracing bool) (*Configuration, error) {
	return Of(Options{Analysis: a, Profile: profile, DisableTracing: !enableTracing})
}

func (c *Configuration) newGenerator() *rewiring.Generator {
	return rewiring.NewGenerator(rewiring.GeneratorConfig{
		Analysis:  c.analysis,
		Rules:     c.rules,
		Providers: c.providers,
		Emitters:  c.emitters,
		RuleSet:   c.ruleSet,
		Cache:     c.cache,
		Logger:    c.logger,
	})
}

// CreateChild derives a configuration that adds userSource and whatever
// configure adds. The child shares this configuration's policies and
// profile, and its cache reads through to this one's. If configure fails
// the child is discarded and the error returned; the receiver is never
// modified either way.
func (c *Configuration) CreateChild(userSource analysis.Source, configure func(*analysis.ChildBuilder) error) (*Configuration, error) {
	builder := c.analysis.CreateChild(userSource)
	if configure != nil {
		if err := configure(builder); err != nil {
			return nil, err
		}
	}
	a, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("create child: %w", err)
	}

	child := &Configuration{
		parent:    c,
		analysis:  a,
		profile:   c.profile,
		rules:     c.rules,
		emitters:  c.emitters,
		providers: c.providers,
		ruleSet:   c.ruleSet,
		cache:     rewiring.NewByteCodeCache(c.cache),
		logger:    c.logger,
	}
	child.generator = child.newGenerator()
	return child, nil
}

// Parent returns the configuration this one was derived from, or nil.
func (c *Configuration) Parent() *Configuration {
	return c.parent
}

func (c *Configuration) Analysis() *analysis.Configuration { return c.analysis }

func (c *Configuration) Profile() execution.Profile { return c.profile }

func (c *Configuration) Cache() *rewiring.ByteCodeCache { return c.cache }

func (c *Configuration) Logger() *zap.Logger { return c.logger }

// RuleSet identifies the policies that produce this sandbox's classes.
func (c *Configuration) RuleSet() string { return c.ruleSet }

// Rules returns a copy of the rule list.
func (c *Configuration) Rules() []rules.Rule {
	return append([]rules.Rule(nil), c.rules...)
}

// Emitters returns a copy of the emitter list in application order.
func (c *Configuration) Emitters() []code.Emitter {
	return append([]code.Emitter(nil), c.emitters...)
}

// DefinitionProviders returns a copy of the provider list.
func (c *Configuration) DefinitionProviders() []code.DefinitionProvider {
	return append([]code.DefinitionProvider(nil), c.providers...)
}
