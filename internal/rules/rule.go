// Package rules holds the static checks that reject unsafe class
// definitions, and the default sets of rules, definition providers and
// emitters that make up a deterministic sandbox.
package rules

import (
	"fmt"
	"reflect"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/classfile"
)

// Context is the subject of one validation: a class, or one of its members.
type Context struct {
	Analysis *analysis.Configuration
	Class    *classfile.Definition

	// Member is nil when the class itself is being validated.
	Member *classfile.Member
}

// Rule inspects a definition and returns an error describing why it may
// not be loaded into the sandbox. Rules never modify what they inspect.
type Rule interface {
	Validate(ctx Context) error
}

// Violation is returned when a definition breaks a rule.
type Violation struct {
	Rule   string
	Class  string
	Member string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("rule violation [%s] in %s: %s", v.Rule, v.Member, v.Reason)
}

// Name returns the type name of a rule, provider or emitter.
func Name(policy any) string {
	t := reflect.TypeOf(policy)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

// Check applies every rule, in order, to the class and then to each of its
// fields and methods. It stops at the first violation.
func Check(a *analysis.Configuration, def *classfile.Definition, rules []Rule) error {
	for _, rule := range rules {
		if err := apply(rule, Context{Analysis: a, Class: def}); err != nil {
			return err
		}
		for _, group := range [][]classfile.Member{def.Fields, def.Methods} {
			for i := range group {
				if err := apply(rule, Context{Analysis: a, Class: def, Member: &group[i]}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func apply(rule Rule, ctx Context) error {
	err := rule.Validate(ctx)
	if err == nil {
		return nil
	}
	return &Violation{
		Rule:   Name(rule),
		Class:  ctx.Class.Name,
		Member: classfile.FormatMember(ctx.Class.Name, ctx.Member),
		Reason: err.Error(),
	}
}
