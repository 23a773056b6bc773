// Package script embeds the goja JavaScript runtime and exposes the hook
// scripting surface: hook registration, guest memory access, and the static
// SYSCALLS table. It also implements the dispatch bridge contract used to
// invoke callbacks on syscall entry and exit.
package script

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/dop251/goja"

	"github.com/zboralski/gavial/internal/guest"
	"github.com/zboralski/gavial/internal/hooks"
	"github.com/zboralski/gavial/internal/log"
)

// Engine hosts a goja runtime with the gavial scripting API installed.
//
// goja runtimes are not goroutine-safe; the engine mutex is the process-wide
// interpreter lock. Every entry into the VM (script load, callback
// invocation) holds it for the duration of the call.
type Engine struct {
	mu  sync.Mutex
	vm  *goja.Runtime
	reg *hooks.Registry
	mem *guest.Memory
	log *log.Logger
}

// NewEngine creates an engine bound to a hook registry and a guest memory
// accessor and installs the scripting API into a fresh runtime.
func NewEngine(reg *hooks.Registry, mem *guest.Memory, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	e := &Engine{
		vm:  goja.New(),
		reg: reg,
		mem: mem,
		log: logger,
	}
	if err := e.install(); err != nil {
		return nil, fmt.Errorf("install scripting api: %w", err)
	}
	return e, nil
}

// LoadFile reads and executes a hook script. Any throw during execution
// aborts startup; nothing is dispatched until a script has loaded cleanly.
func (e *Engine) LoadFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read hook script: %w", err)
	}
	return e.Load(path, string(src))
}

// Load executes script source under the given name.
func (e *Engine) Load(name, src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.vm.RunScript(name, src); err != nil {
		return fmt.Errorf("execute hook script %s: %w", name, err)
	}
	return nil
}

// install binds the scripting API as globals.
func (e *Engine) install() error {
	vm := e.vm

	vm.Set("CONTINUE", int(hooks.Continue))
	vm.Set("SKIP", int(hooks.Skip))

	vm.Set("register_pre_hook", e.makeRegister(hooks.PhasePre))
	vm.Set("register_post_hook", e.makeRegister(hooks.PhasePost))
	vm.Set("unregister_pre_hook", e.makeUnregister(hooks.PhasePre))
	vm.Set("unregister_post_hook", e.makeUnregister(hooks.PhasePost))

	vm.Set("print", func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			fmt.Println(a.Export())
		}
		return goja.Undefined()
	})

	vm.Set("read_memory", e.jsReadMemory)
	vm.Set("write_memory", e.jsWriteMemory)
	vm.Set("read_string", e.jsReadString)

	syscalls := vm.NewObject()
	e.reg.Table().Each(func(num int, name string) {
		syscalls.Set(strconv.Itoa(num), name)
	})
	return vm.Set("SYSCALLS", syscalls)
}

// identifier converts a JS value into a syscall identifier. Numbers pass
// through; strings resolve later via the registry's name table.
func (e *Engine) identifier(v goja.Value) hooks.Ident {
	switch ev := v.Export().(type) {
	case string:
		return hooks.Name(ev)
	case int64:
		return hooks.ID(int(ev))
	case float64:
		return hooks.ID(int(ev))
	default:
		panic(e.vm.NewTypeError("syscall must be an int or string"))
	}
}

func (e *Engine) makeRegister(phase hooks.Phase) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		id := e.identifier(call.Argument(0))
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(e.vm.NewTypeError("callback must be callable"))
		}
		if err := e.reg.Register(phase, id, fn); err != nil {
			panic(e.vm.NewGoError(err))
		}
		return goja.Undefined()
	}
}

func (e *Engine) makeUnregister(phase hooks.Phase) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		id := e.identifier(call.Argument(0))
		if err := e.reg.Unregister(phase, id); err != nil {
			panic(e.vm.NewGoError(err))
		}
		return goja.Undefined()
	}
}

func (e *Engine) jsReadMemory(call goja.FunctionCall) goja.Value {
	addr := uint64(call.Argument(0).ToInteger())
	size := int(call.Argument(1).ToInteger())
	data, err := e.mem.Read(addr, size)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	return e.vm.ToValue(e.vm.NewArrayBuffer(data))
}

func (e *Engine) jsWriteMemory(call goja.FunctionCall) goja.Value {
	addr := uint64(call.Argument(0).ToInteger())

	var data []byte
	switch ev := call.Argument(1).Export().(type) {
	case []byte:
		data = ev
	case goja.ArrayBuffer:
		data = ev.Bytes()
	case string:
		data = []byte(ev)
	default:
		panic(e.vm.NewTypeError("data must be an ArrayBuffer or string"))
	}

	if err := e.mem.Write(addr, data); err != nil {
		panic(e.vm.NewGoError(err))
	}
	return goja.Undefined()
}

func (e *Engine) jsReadString(call goja.FunctionCall) goja.Value {
	addr := uint64(call.Argument(0).ToInteger())
	s, err := e.mem.ReadString(addr)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	return e.vm.ToValue(s)
}

// InvokePre calls a pre-syscall callback with the context object and
// interprets its result by truthiness. Args/ret edits are read back into the
// context; an args edit that is not exactly eight elements is discarded
// whole rather than partially applied.
func (e *Engine) InvokePre(cb hooks.Callback, ctx *hooks.Context) (bool, error) {
	fn, ok := cb.(goja.Callable)
	if !ok {
		return false, hooks.ErrNotCallable
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	obj := e.contextObject(ctx, true)
	res, err := fn(goja.Undefined(), obj)
	if err != nil {
		return false, err
	}

	e.readBack(obj, ctx)
	return res.ToBoolean(), nil
}

// InvokePost calls a post-syscall callback with (context, ret). An
// integer-convertible result becomes the new return value; anything else
// keeps ret.
func (e *Engine) InvokePost(cb hooks.Callback, ctx *hooks.Context, ret int64) (int64, error) {
	fn, ok := cb.(goja.Callable)
	if !ok {
		return ret, hooks.ErrNotCallable
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	obj := e.contextObject(ctx, false)
	res, err := fn(goja.Undefined(), obj, e.vm.ToValue(ret))
	if err != nil {
		return ret, err
	}
	if isNumber(res) {
		return res.ToInteger(), nil
	}
	return ret, nil
}

// contextObject materializes a hook context as a JS object. The ret field is
// present only in the pre phase; in the post phase the return value travels
// as a separate call argument.
func (e *Engine) contextObject(ctx *hooks.Context, withRet bool) *goja.Object {
	vm := e.vm
	obj := vm.NewObject()
	obj.Set("num", ctx.Num)

	args := make([]interface{}, len(ctx.Args))
	for i, a := range ctx.Args {
		args[i] = a
	}
	obj.Set("args", vm.NewArray(args...))

	if withRet {
		obj.Set("ret", ctx.Ret)
	}
	obj.Set("cpu", e.cpuObject(ctx))
	obj.Set("binary", ctx.Binary)
	return obj
}

func (e *Engine) cpuObject(ctx *hooks.Context) *goja.Object {
	vm := e.vm
	cpu := vm.NewObject()
	cpu.Set("pc", ctx.CPU.PC)
	cpu.Set("sp", ctx.CPU.SP)
	for name, val := range ctx.CPU.Named {
		cpu.Set(name, val)
	}
	for name, bank := range ctx.CPU.Banks {
		vals := make([]interface{}, len(bank))
		for i, v := range bank {
			vals[i] = v
		}
		cpu.Set(name, vm.NewArray(vals...))
	}
	return cpu
}

// readBack extracts possibly modified args and ret from the context object.
func (e *Engine) readBack(obj *goja.Object, ctx *hooks.Context) {
	if v := obj.Get("args"); v != nil {
		if arr, ok := v.(*goja.Object); ok {
			if l := arr.Get("length"); l != nil && l.ToInteger() == int64(len(ctx.Args)) {
				for i := range ctx.Args {
					item := arr.Get(strconv.Itoa(i))
					if item != nil && isNumber(item) {
						ctx.Args[i] = item.ToInteger()
					}
				}
			}
		}
	}
	if v := obj.Get("ret"); v != nil && isNumber(v) {
		ctx.Ret = v.ToInteger()
	}
}

func isNumber(v goja.Value) bool {
	switch v.Export().(type) {
	case int64, float64:
		return true
	}
	return false
}
