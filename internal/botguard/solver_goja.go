package botguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/ytget/ytfetch/internal/logger"
)

const attestFuncName = "bgAttest"

// GojaSolver executes a user-provided JS file to produce Botguard tokens.
// The script must define a global function `bgAttest(input)` returning a string token
// or an object { token: string, ttlSeconds?: number }.
//
// The script is compiled once; every Attest call runs it in a fresh runtime.
// A cancelled context interrupts a running script.
type GojaSolver struct {
	scriptPath string

	once    sync.Once
	program *goja.Program
	loadErr error
}

// NewGojaSolverWithScript returns a solver for the script at scriptPath.
func NewGojaSolverWithScript(scriptPath string) *GojaSolver {
	return &GojaSolver{scriptPath: scriptPath}
}

func (s *GojaSolver) load() (*goja.Program, error) {
	s.once.Do(func() {
		src, err := os.ReadFile(s.scriptPath)
		if err != nil {
			s.loadErr = fmt.Errorf("read script: %w", err)
			return
		}
		s.program, s.loadErr = goja.Compile(s.scriptPath, string(src), false)
		if s.loadErr != nil {
			s.loadErr = fmt.Errorf("compile script: %w", s.loadErr)
		}
	})
	return s.program, s.loadErr
}

// Attest implements Solver.
func (s *GojaSolver) Attest(ctx context.Context, input Input) (Output, error) {
	if s == nil || s.scriptPath == "" {
		return Output{}, errors.New("goja solver: script path not set")
	}
	program, err := s.load()
	if err != nil {
		return Output{}, err
	}

	vm := goja.New()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	_ = vm.Set("console", map[string]any{
		"log": func(args ...any) {
			log.Trace("script output", logger.Fields{"args": fmt.Sprint(args...)})
		},
	})

	// Hand the input over as a plain JS object with Go field names.
	inJSON, _ := json.Marshal(input)
	var inObj map[string]any
	_ = json.Unmarshal(inJSON, &inObj)

	if _, err := vm.RunProgram(program); err != nil {
		return Output{}, fmt.Errorf("run script: %w", err)
	}
	fn, ok := goja.AssertFunction(vm.Get(attestFuncName))
	if !ok {
		return Output{}, errors.New("bgAttest function not found in script")
	}
	res, err := fn(goja.Undefined(), vm.ToValue(inObj))
	if err != nil {
		return Output{}, fmt.Errorf("bgAttest error: %w", err)
	}
	if goja.IsUndefined(res) || goja.IsNull(res) {
		return Output{}, errors.New("bgAttest returned undefined/null")
	}

	var out Output
	if str, ok := res.Export().(string); ok {
		out.Token = str
		return out, nil
	}
	obj := res.ToObject(vm)
	if v := obj.Get("token"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		out.Token = v.String()
	}
	if v := obj.Get("ttlSeconds"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		if n := v.ToInteger(); n > 0 {
			out.ExpiresAt = time.Now().Add(time.Duration(n) * time.Second)
		}
	}
	if out.Token == "" {
		return Output{}, errors.New("bgAttest returned no token")
	}
	log.Debug("Token obtained", logger.Fields{"client": input.ClientName, "expires": out.ExpiresAt})
	return out, nil
}
