// Package jsfunc implements C6, the function evaluator: a sandboxed runner
// for the JavaScript bodies embedded in $function expressions (spec §4.6).
package jsfunc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"golang.org/x/sync/singleflight"

	"github.com/relaydb/relaydb/internal/mongoerr"
)

// Evaluator executes user-supplied JavaScript expressions with the contract
// execute(body, args) -> value and executeBatch(body, args_list[]) ->
// value_list (spec §4.6).
type Evaluator interface {
	Execute(ctx context.Context, body string, args []interface{}) (interface{}, error)
	ExecuteBatch(ctx context.Context, body string, argsList [][]interface{}) ([]interface{}, error)
}

// sandboxEvaluator runs each batch in a fresh goja.Runtime so no state, and
// no ambient capability (network, storage, timers beyond the language
// built-ins), survives across calls. Compiled programs are cached across
// calls by the SHA-256 of the normalized body (spec §4.6 "Concurrency
// contract"); instantiating the program against a runtime happens per call.
type sandboxEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*goja.Program
	group singleflight.Group
}

// NewEvaluator constructs the process-wide function evaluator.
func NewEvaluator() Evaluator {
	return &sandboxEvaluator{cache: make(map[string]*goja.Program)}
}

// cacheKey is the first 16 hex characters of the SHA-256 of the normalized
// source (spec §4.6), trimming surrounding whitespace so cosmetically
// distinct but semantically identical bodies share a compiled instance.
func cacheKey(body string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(body)))
	return hex.EncodeToString(sum[:])[:16]
}

// program returns the compiled goja.Program for body, compiling and caching
// it on first use. Concurrent first-use races are resolved with
// singleflight rather than a double-compile-and-discard: duplicate callers
// for the same body wait on the single in-flight compile instead of
// repeating it (spec §5c, "concurrent first-use may race to populate the
// cache").
func (e *sandboxEvaluator) program(body string) (*goja.Program, error) {
	key := cacheKey(body)

	e.mu.RLock()
	if p, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		prog, err := goja.Compile("", "("+body+")", true)
		if err != nil {
			return nil, mongoerr.New(mongoerr.CodeInternalError, "$function: invalid function body: %v", err)
		}
		e.mu.Lock()
		e.cache[key] = prog
		e.mu.Unlock()
		return prog, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*goja.Program), nil
}

// Execute runs body once against args. It is a thin wrapper over
// ExecuteBatch with a single-element batch (spec §4.6's execute/executeBatch
// are the same underlying operation at different arities).
func (e *sandboxEvaluator) Execute(ctx context.Context, body string, args []interface{}) (interface{}, error) {
	results, err := e.ExecuteBatch(ctx, body, [][]interface{}{args})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ExecuteBatch instantiates body once and calls it once per element of
// argsList, sharing one runtime across the whole batch (spec §4.6
// "Batching"). A per-element evaluation exception is captured as an
// {"__error": message} value in its slot rather than aborting the rest of
// the batch; a batch-wide setup failure (invalid body, body that doesn't
// evaluate to a callable) is returned as a request-level error since it
// applies identically to every element.
func (e *sandboxEvaluator) ExecuteBatch(ctx context.Context, body string, argsList [][]interface{}) ([]interface{}, error) {
	prog, err := e.program(body)
	if err != nil {
		return nil, err
	}

	rt := goja.New()
	fnVal, err := rt.RunProgram(prog)
	if err != nil {
		return nil, mongoerr.New(mongoerr.CodeInternalError, "$function: failed to instantiate function body: %v", err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeInternalError, "$function: body did not evaluate to a callable function")
	}

	results := make([]interface{}, len(argsList))
	for i, args := range argsList {
		select {
		case <-ctx.Done():
			return nil, mongoerr.Aborted("$function.executeBatch")
		default:
		}

		jsArgs := make([]goja.Value, len(args))
		for j, a := range args {
			jsArgs[j] = rt.ToValue(a)
		}

		v, callErr := fn(goja.Undefined(), jsArgs...)
		if callErr != nil {
			results[i] = map[string]interface{}{"__error": callErr.Error()}
			continue
		}
		results[i] = v.Export()
	}
	return results, nil
}
