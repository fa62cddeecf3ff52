package interceptor

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expressions declares interceptors as expr-lang source in the config file.
// Each expression is evaluated with env {resource, body} ({resource, id,
// body} for the response hook). A string result vetoes the request, a map
// result replaces the body, nil leaves it unchanged. Results of any other
// type are ignored and the original body is used.
type Expressions struct {
	Post     string `yaml:"post,omitempty" json:"post,omitempty"`
	Put      string `yaml:"put,omitempty" json:"put,omitempty"`
	Patch    string `yaml:"patch,omitempty" json:"patch,omitempty"`
	Response string `yaml:"response,omitempty" json:"response,omitempty"`
}

// IsEmpty reports whether no expressions are configured.
func (e Expressions) IsEmpty() bool {
	return e.Post == "" && e.Put == "" && e.Patch == "" && e.Response == ""
}

// CompileChain compiles all configured expressions into a Chain. Programs
// are compiled once here and only executed per request.
func CompileChain(exprs Expressions) (Chain, error) {
	var chain Chain
	var err error

	compileReq := func(name, src string) (RequestInterceptor, error) {
		if src == "" {
			return nil, nil
		}
		program, cerr := expr.Compile(src)
		if cerr != nil {
			return nil, fmt.Errorf("interceptor %s: %w", name, cerr)
		}
		return exprRequestInterceptor(program), nil
	}

	if chain.Post, err = compileReq("post", exprs.Post); err != nil {
		return Chain{}, err
	}
	if chain.Put, err = compileReq("put", exprs.Put); err != nil {
		return Chain{}, err
	}
	if chain.Patch, err = compileReq("patch", exprs.Patch); err != nil {
		return Chain{}, err
	}

	if exprs.Response != "" {
		program, cerr := expr.Compile(exprs.Response)
		if cerr != nil {
			return Chain{}, fmt.Errorf("interceptor response: %w", cerr)
		}
		chain.Response = exprResponseInterceptor(program)
	}

	return chain, nil
}

func exprRequestInterceptor(program *vm.Program) RequestInterceptor {
	return func(req Request) (Result, error) {
		out, err := expr.Run(program, map[string]any{
			"resource": req.Resource,
			"body":     req.Body,
		})
		if err != nil {
			return Result{}, fmt.Errorf("request interceptor failed: %w", err)
		}
		switch v := out.(type) {
		case nil:
			return Unchanged(), nil
		case string:
			return Reject(v), nil
		case map[string]any:
			return Replace(v), nil
		default:
			// Numbers, booleans, arrays: not a meaningful outcome, keep the
			// original body.
			return Unchanged(), nil
		}
	}
}

func exprResponseInterceptor(program *vm.Program) ResponseInterceptor {
	return func(resp Response) (any, error) {
		out, err := expr.Run(program, map[string]any{
			"resource": resp.Resource,
			"id":       resp.ID,
			"body":     resp.Body,
		})
		if err != nil {
			return nil, fmt.Errorf("response interceptor failed: %w", err)
		}
		return out, nil
	}
}
