package rewiring

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/code"
	"github.com/detbox-dev/detbox/internal/rules"
)

// GeneratorConfig holds everything that determines generated output.
type GeneratorConfig struct {
	Analysis  *analysis.Configuration
	Rules     []rules.Rule
	Providers []code.DefinitionProvider
	// Emitters must already be sorted by priority.
	Emitters []code.Emitter
	RuleSet  string
	Cache    *ByteCodeCache
	Logger   *zap.Logger
}

// Generator produces sandboxed bytecode for one sandbox configuration.
// Concurrent requests for the same class share a single generation.
type Generator struct {
	cfg   GeneratorConfig
	group singleflight.Group
	log   *zap.Logger
}

// NewGenerator creates a generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{cfg: cfg, log: log}
}

// Analysis returns the generator's analysis configuration.
func (g *Generator) Analysis() *analysis.Configuration { return g.cfg.Analysis }

// Cache returns the cache generated classes are stored in.
func (g *Generator) Cache() *ByteCodeCache { return g.cfg.Cache }

// Generate returns sandboxed bytecode for an original class name, from the
// cache chain when present. Failed generations leave the cache untouched.
func (g *Generator) Generate(name string) (*ByteCode, error) {
	if !g.cfg.Analysis.IsVisible(name) {
		return nil, &analysis.ClassNotFoundError{Name: name, Reason: "not visible"}
	}
	key := Key{Class: name, RuleSet: g.cfg.RuleSet}
	if bc, ok := g.cfg.Cache.Get(key); ok {
		return bc, nil
	}
	v, err, _ := g.group.Do(name, func() (any, error) {
		if bc, ok := g.cfg.Cache.Get(key); ok {
			return bc, nil
		}
		bc, err := g.generate(name)
		if err != nil {
			return nil, err
		}
		g.cfg.Cache.Put(key, bc)
		g.log.Debug("generated sandbox class",
			zap.String("class", bc.Name),
			zap.Int("bytes", len(bc.Bytes)),
		)
		return bc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ByteCode), nil
}

// generate is a pure function of the source definition and the policy
// lists.
func (g *Generator) generate(name string) (*ByteCode, error) {
	src, err := g.cfg.Analysis.LoadDefinition(name)
	if err != nil {
		return nil, err
	}
	if err := rules.Check(g.cfg.Analysis, src, g.cfg.Rules); err != nil {
		return nil, err
	}

	ctx := code.Context{Analysis: g.cfg.Analysis}
	def := src.Clone()
	for _, p := range g.cfg.Providers {
		if def = p.Define(ctx, def); def == nil {
			return nil, fmt.Errorf("definition provider %s discarded class %s", rules.Name(p), name)
		}
	}

	for i := range def.Methods {
		m := &def.Methods[i]
		if m.Code == nil {
			continue
		}
		ectx := code.EmitContext{Context: ctx, Class: def, Method: m}
		body := m.Code.Instructions
		labels := 0
		for _, e := range g.cfg.Emitters {
			body = code.Rewrite(ectx, e, body, &labels)
		}
		m.Code.Instructions = body
	}

	classfile.Relocate(def, g.cfg.Analysis.SandboxName)
	if err := classfile.Verify(def); err != nil {
		return nil, fmt.Errorf("generate %s: %w", name, err)
	}
	data, err := classfile.Marshal(def)
	if err != nil {
		return nil, err
	}

	var refs []string
	for _, ref := range classfile.References(src) {
		if !analysis.IsPinned(ref) {
			refs = append(refs, ref)
		}
	}
	return &ByteCode{Name: def.Name, Source: name, Bytes: data, References: refs}, nil
}

// IsClassNotFound reports whether err means a class is absent or hidden.
func IsClassNotFound(err error) bool {
	var notFound *analysis.ClassNotFoundError
	return errors.As(err, &notFound)
}
