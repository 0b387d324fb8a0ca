//go:build v8

package v8engine

import (
	"fmt"

	v8 "github.com/tommie/v8go"
)

// v8Runtime wraps a V8 isolate and context with typed eval helpers.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

// Eval evaluates JavaScript and discards the result.
func (r *v8Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.ctx.RunScript(js, "eval_string.js")
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.ctx.RunScript(js, "eval_bool.js")
	if err != nil {
		return false, err
	}
	if val == nil {
		return false, nil
	}
	return val.Boolean(), nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *v8Runtime) EvalInt(js string) (int, error) {
	val, err := r.ctx.RunScript(js, "eval_int.js")
	if err != nil {
		return 0, err
	}
	if val == nil {
		return 0, nil
	}
	return int(val.Integer()), nil
}

// registerBridge installs a two-string-argument Go function as a global.
// Errors are thrown as raw string values, not wrapped in an Error, so a
// structured message survives untouched for the guest and for fault
// classification. Return values may be string or int.
func (r *v8Runtime) registerBridge(name string, fn func(a, b string) (any, error)) error {
	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		var a, b string
		if len(args) > 0 {
			a = args[0].String()
		}
		if len(args) > 1 {
			b = args[1].String()
		}
		v, err := fn(a, b)
		if err != nil {
			jsMsg, _ := v8.NewValue(r.iso, err.Error())
			r.iso.ThrowException(jsMsg)
			return nil
		}
		out, convErr := scalarToJS(r.iso, v)
		if convErr != nil {
			jsMsg, _ := v8.NewValue(r.iso, convErr.Error())
			r.iso.ThrowException(jsMsg)
			return nil
		}
		return out
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

func scalarToJS(iso *v8.Isolate, v any) (*v8.Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return v8.NewValue(iso, x)
	case int:
		return v8.NewValue(iso, int32(x))
	case bool:
		return v8.NewValue(iso, x)
	case float64:
		return v8.NewValue(iso, x)
	}
	return nil, fmt.Errorf("unsupported bridge return type %T", v)
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *v8Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}
