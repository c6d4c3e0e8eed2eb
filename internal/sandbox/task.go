package sandbox

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/execution"
	"github.com/detbox-dev/detbox/internal/rewiring"
)

// Context is the per-task sandbox state. It is created fresh for each
// IsolatedTask run and torn down when the run ends, so nothing in it is
// visible to any other task.
type Context struct {
	ID            string
	Name          string
	Configuration *Configuration
	ClassLoader   *rewiring.ClassLoader

	accounter   *execution.CostAccounter
	interpreter *execution.Interpreter
}

// Accounter returns the task's cost accounter.
func (c *Context) Accounter() *execution.CostAccounter { return c.accounter }

// LoadClass returns a sandboxed class definition, generating it on first
// use.
func (c *Context) LoadClass(sandboxName string) (*classfile.Definition, error) {
	return c.ClassLoader.LoadClass(sandboxName)
}

// ObjectClass is the sandboxed root type.
func (c *Context) ObjectClass() string {
	return c.Configuration.analysis.SandboxName(classfile.ObjectName)
}

// Invoke runs a static method of a class, given by its original name, and
// returns the result.
func (c *Context) Invoke(ctx context.Context, className, method, descriptor string, args ...any) (any, error) {
	if c.interpreter == nil {
		c.interpreter = execution.NewInterpreter(c)
	}
	bc, err := c.ClassLoader.ToSandboxClass(className)
	if err != nil {
		return nil, err
	}
	return c.interpreter.InvokeStatic(ctx, bc.Name, method, descriptor, args...)
}

func (c *Context) teardown() {
	c.ClassLoader = nil
	c.interpreter = nil
	c.accounter = nil
}

// IsolatedTask runs work against one sandbox configuration on a dedicated
// goroutine.
type IsolatedTask struct {
	prefix string
	cfg    *Configuration
}

// NewIsolatedTask creates a task runner. prefix names the tasks it runs in
// logs.
func NewIsolatedTask(prefix string, cfg *Configuration) *IsolatedTask {
	return &IsolatedTask{prefix: prefix, cfg: cfg}
}

// Run executes fn with a fresh Context and waits for it to finish. A panic
// in fn is returned as an error. The context is torn down before Run
// returns, whatever the outcome.
func (t *IsolatedTask) Run(ctx context.Context, fn func(*Context) error) error {
	id := uuid.NewString()
	tc := &Context{
		ID:            id,
		Name:          t.prefix + "-" + id[:8],
		Configuration: t.cfg,
		ClassLoader:   rewiring.NewClassLoader(t.cfg.generator),
		accounter:     execution.NewCostAccounter(t.cfg.profile),
	}
	log := t.cfg.logger.With(zap.String("task", tc.Name))

	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				log.Error("task panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = fmt.Errorf("task %s panicked: %v", tc.Name, r)
			}
			tc.teardown()
			done <- err
		}()
		log.Debug("task started")
		err = fn(tc)
	}()

	err := <-done
	if err != nil {
		log.Debug("task failed", zap.Error(err))
	} else {
		log.Debug("task finished")
	}
	return err
}
