// Package rules runs label extraction rules against document text.
//
// Rules are CEL expressions evaluated in an environment whose only input is
// the variable text and whose only functions are pure string helpers, so a
// rule cannot reach files, the network, or process state. Each field is
// evaluated on its own: one failing rule yields nil for its field and never
// affects siblings.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrFieldExtraction marks a rule that produced no value.
var ErrFieldExtraction = errors.New("field extraction failed")

// Defaults used when Options leaves a bound unset.
const (
	DefaultCostLimit   uint64 = 1_000_000
	DefaultEvalTimeout        = 2 * time.Second
)

// FieldError describes why one field came out nil.
type FieldError struct {
	Field string
	Rule  string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrFieldExtraction, e.Err}
}

// Report is the outcome of running every rule of one definition.
type Report struct {
	// Fields has one entry per rule; failed fields are nil.
	Fields map[string]any
	// Errors holds the failure for each nil field.
	Errors map[string]*FieldError
}

// Failed returns the names of fields that produced no value, sorted.
func (r Report) Failed() []string {
	out := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Options configures an Engine.
type Options struct {
	CostLimit   uint64
	EvalTimeout time.Duration
	Logger      *slog.Logger
}

type compiled struct {
	prg cel.Program
	err error
}

// Engine compiles and evaluates rules. It is safe for concurrent use.
type Engine struct {
	env    *cel.Env
	opts   Options
	logger *slog.Logger
	mu     sync.RWMutex
	prgs   map[string]compiled
}

// NewEngine builds the rule environment.
func NewEngine(opts Options) (*Engine, error) {
	if opts.CostLimit == 0 {
		opts.CostLimit = DefaultCostLimit
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = DefaultEvalTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	envOpts := []cel.EnvOption{
		cel.Variable("text", cel.StringType),
		ext.Strings(),
	}
	envOpts = append(envOpts, helperFunctions()...)

	env, err := cel.NewEnv(envOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}

	return &Engine{
		env:    env,
		opts:   opts,
		logger: logger,
		prgs:   make(map[string]compiled),
	}, nil
}

// Check compiles rule without evaluating it.
func (e *Engine) Check(rule string) error {
	_, err := e.program(rule)
	return err
}

func (e *Engine) program(rule string) (cel.Program, error) {
	e.mu.RLock()
	c, ok := e.prgs[rule]
	e.mu.RUnlock()
	if ok {
		return c.prg, c.err
	}

	c = e.compile(rule)

	e.mu.Lock()
	e.prgs[rule] = c
	e.mu.Unlock()
	return c.prg, c.err
}

func (e *Engine) compile(rule string) compiled {
	ast, issues := e.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return compiled{err: fmt.Errorf("compile: %w", issues.Err())}
	}
	prg, err := e.env.Program(ast,
		cel.CostLimit(e.opts.CostLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return compiled{err: fmt.Errorf("program: %w", err)}
	}
	return compiled{prg: prg}
}

// Extract evaluates every rule against text. The returned report always
// carries one entry per rule name.
func (e *Engine) Extract(ctx context.Context, text string, rules map[string]string) Report {
	report := Report{
		Fields: make(map[string]any, len(rules)),
		Errors: make(map[string]*FieldError),
	}

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule := rules[name]
		val, err := e.evalField(ctx, text, rule)
		if err != nil {
			report.Fields[name] = nil
			report.Errors[name] = &FieldError{Field: name, Rule: rule, Err: err}
			e.logger.Debug("rule produced no value", "field", name, "error", err)
			continue
		}
		report.Fields[name] = val
	}
	return report
}

func (e *Engine) evalField(ctx context.Context, text, rule string) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prg, err := e.program(rule)
	if err != nil {
		return nil, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.opts.EvalTimeout)
	defer cancel()

	val, _, err := prg.ContextEval(evalCtx, map[string]any{"text": text})
	if err != nil {
		return nil, err
	}
	if evalCtx.Err() != nil {
		return nil, evalCtx.Err()
	}
	return toNative(val)
}

// toNative converts a CEL value into plain JSON-compatible Go values.
func toNative(val ref.Val) (any, error) {
	if types.IsError(val) {
		return nil, fmt.Errorf("%v", val)
	}
	if val.Type() == types.NullType {
		return nil, errors.New("rule returned null")
	}
	pb, err := val.ConvertToNative(reflect.TypeOf(&structpb.Value{}))
	if err != nil {
		return nil, fmt.Errorf("unsupported result type %s: %w", val.Type().TypeName(), err)
	}
	v, ok := pb.(*structpb.Value)
	if !ok {
		return nil, fmt.Errorf("unsupported result type %s", val.Type().TypeName())
	}
	return v.AsInterface(), nil
}
