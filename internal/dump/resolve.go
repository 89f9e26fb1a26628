package dump

import (
	"errors"
	"fmt"
	"strings"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/depgraph"
	"bytegraph/internal/disasm"
)

// ErrBadEntry is returned by Lookup for malformed or unknown entry points.
var ErrBadEntry = errors.New("bad entry point")

// RefKind is the kind of code unit a Ref names.
type RefKind int

const (
	ModuleBody RefKind = iota
	FunctionRef
	MethodRef
	ClassRef    // class without __init__
	BuiltinRef  // listed in the image's builtins
	ExternalRef // reached through an import of a module absent from the image
)

// Ref is a callable in an image. It implements callgraph.Callable.
type Ref struct {
	Kind   RefKind
	Module *Module
	Class  *Class    // MethodRef, ClassRef
	Func   *Function // FunctionRef, MethodRef
	Name   string    // BuiltinRef, ExternalRef: dotted name
}

// QualName returns the dotted path of the unit, e.g. app.Worker.run.
func (r *Ref) QualName() string {
	switch r.Kind {
	case ModuleBody:
		return r.Module.Name
	case FunctionRef:
		return r.Module.Name + "." + r.Func.Name
	case MethodRef:
		return r.Module.Name + "." + r.Class.Name + "." + r.Func.Name
	case ClassRef:
		return r.Module.Name + "." + r.Class.Name
	case BuiltinRef:
		return "builtins." + r.Name
	}
	return r.Name
}

func (r *Ref) String() string {
	return r.QualName()
}

// Lookup finds an entry point written as module:qualname (app:main,
// app:Worker.run) or module for the module body.
func (img *Image) Lookup(entry string) (*Ref, error) {
	modName, qual, _ := strings.Cut(entry, ":")
	m, ok := img.byName[modName]
	if !ok {
		return nil, fmt.Errorf("dump: %w: no module %q", ErrBadEntry, modName)
	}
	if qual == "" {
		return &Ref{Kind: ModuleBody, Module: m}, nil
	}
	segs := strings.Split(qual, ".")
	if r := memberRef(m, segs); r != nil {
		return r, nil
	}
	return nil, fmt.Errorf("dump: %w: %s has no %s", ErrBadEntry, modName, qual)
}

// memberRef resolves f, C, or C.m inside one module.
func memberRef(m *Module, segs []string) *Ref {
	switch len(segs) {
	case 1:
		if f, ok := m.Function(segs[0]); ok {
			return &Ref{Kind: FunctionRef, Module: m, Func: f}
		}
		if c, ok := m.Class(segs[0]); ok {
			return constructor(m, c)
		}
	case 2:
		if c, ok := m.Class(segs[0]); ok {
			if f, ok := c.Method(segs[1]); ok {
				return &Ref{Kind: MethodRef, Module: m, Class: c, Func: f}
			}
		}
	}
	return nil
}

// constructor is what calling a class runs: its __init__ when defined,
// otherwise an opaque class reference.
func constructor(m *Module, c *Class) *Ref {
	if f, ok := c.Method("__init__"); ok {
		return &Ref{Kind: MethodRef, Module: m, Class: c, Func: f}
	}
	return &Ref{Kind: ClassRef, Module: m, Class: c}
}

// ResolveCallable implements callgraph.NameResolver.
//
// The receiver name resolves against the caller's class and its bases.
// Other bases are tried, in order, as a function or class of the caller's
// module, an import alias, a module of the image, and a builtin.
func (img *Image) ResolveCallable(base string, chain []string, caller callgraph.Callable) (callgraph.Callable, error) {
	from, _ := caller.(*Ref)
	notFound := func() (callgraph.Callable, error) {
		return nil, fmt.Errorf("%s: %w", disasm.NewCallableName(append([]string{base}, chain...)...), callgraph.ErrNameNotFound)
	}

	if from != nil && base == img.receiver && from.Class != nil {
		if len(chain) != 1 {
			return notFound()
		}
		if r := img.findMethod(from.Module, from.Class, chain[0], 0); r != nil {
			return r, nil
		}
		return notFound()
	}

	if from != nil && from.Module != nil {
		m := from.Module
		if r := memberRef(m, append([]string{base}, chain...)); r != nil {
			return r, nil
		}
		if target, ok := m.Imports[base]; ok {
			path := append(strings.Split(target, "."), chain...)
			if r := img.lookupPath(path); r != nil {
				return r, nil
			}
			if _, local := img.longestModule(path); !local {
				return &Ref{Kind: ExternalRef, Name: strings.Join(path, ".")}, nil
			}
			return notFound()
		}
	}

	if r := img.lookupPath(append([]string{base}, chain...)); r != nil {
		return r, nil
	}
	if len(chain) == 0 && img.builtins[base] {
		return &Ref{Kind: BuiltinRef, Name: base}, nil
	}
	return notFound()
}

// findMethod looks name up on c and then depth-first through its bases.
func (img *Image) findMethod(m *Module, c *Class, name string, depth int) *Ref {
	if depth > 16 {
		return nil
	}
	if f, ok := c.Method(name); ok {
		return &Ref{Kind: MethodRef, Module: m, Class: c, Func: f}
	}
	for _, b := range c.Bases {
		bm, bc := img.findClass(m, b)
		if bc == nil {
			continue
		}
		if r := img.findMethod(bm, bc, name, depth+1); r != nil {
			return r
		}
	}
	return nil
}

// findClass resolves a base-class name as written in module m.
func (img *Image) findClass(m *Module, name string) (*Module, *Class) {
	if c, ok := m.Class(name); ok {
		return m, c
	}
	path := strings.Split(name, ".")
	if target, ok := m.Imports[path[0]]; ok {
		path = append(strings.Split(target, "."), path[1:]...)
	}
	mod, ok := img.longestModule(path)
	if !ok || len(path) != len(strings.Split(mod.Name, "."))+1 {
		return nil, nil
	}
	c, ok := mod.Class(path[len(path)-1])
	if !ok {
		return nil, nil
	}
	return mod, c
}

// longestModule finds the image module named by the longest prefix of path.
func (img *Image) longestModule(path []string) (*Module, bool) {
	for n := len(path); n > 0; n-- {
		if m, ok := img.byName[strings.Join(path[:n], ".")]; ok {
			return m, true
		}
	}
	return nil, false
}

// lookupPath resolves a fully qualified dotted path to a member of an image
// module. A bare module name is not callable and yields nil.
func (img *Image) lookupPath(path []string) *Ref {
	m, ok := img.longestModule(path)
	if !ok {
		return nil
	}
	rest := path[len(strings.Split(m.Name, ".")):]
	if len(rest) == 0 {
		return nil
	}
	return memberRef(m, rest)
}

// Decode implements callgraph.Decoder and depgraph.Loader.
func (img *Image) Decode(c callgraph.Callable) ([]disasm.Inst, error) {
	r, ok := c.(*Ref)
	if !ok {
		return nil, fmt.Errorf("dump: foreign callable %T", c)
	}
	var code Listing
	switch r.Kind {
	case ModuleBody:
		code = r.Module.Code
	case FunctionRef, MethodRef:
		code = r.Func.Code
	default:
		return nil, fmt.Errorf("dump: %s: %w", r.QualName(), callgraph.ErrDecodeUnavailable)
	}
	return []disasm.Inst(code), nil
}

// LoadModule implements depgraph.Loader.
func (img *Image) LoadModule(name string) (callgraph.Callable, error) {
	m, ok := img.byName[name]
	if !ok {
		return nil, fmt.Errorf("dump: %s: %w", name, depgraph.ErrModuleNotFound)
	}
	return &Ref{Kind: ModuleBody, Module: m}, nil
}

// ListTopLevel implements depgraph.Loader.
func (img *Image) ListTopLevel(module callgraph.Callable) (classes, functions []callgraph.Callable, err error) {
	r, ok := module.(*Ref)
	if !ok || r.Kind != ModuleBody {
		return nil, nil, fmt.Errorf("dump: %v is not a module", module)
	}
	for _, c := range r.Module.Classes {
		classes = append(classes, &Ref{Kind: ClassRef, Module: r.Module, Class: c})
	}
	for _, f := range r.Module.Functions {
		functions = append(functions, &Ref{Kind: FunctionRef, Module: r.Module, Func: f})
	}
	return classes, functions, nil
}

// ListMethods implements depgraph.Loader.
func (img *Image) ListMethods(class callgraph.Callable) ([]callgraph.Callable, error) {
	r, ok := class.(*Ref)
	if !ok || r.Class == nil {
		return nil, fmt.Errorf("dump: %v is not a class", class)
	}
	out := make([]callgraph.Callable, 0, len(r.Class.Methods))
	for _, f := range r.Class.Methods {
		out = append(out, &Ref{Kind: MethodRef, Module: r.Module, Class: r.Class, Func: f})
	}
	return out, nil
}

// ExistsAsLocalSource implements depgraph.SourceLocator for images that
// record source files: a module is local when the image holds it with a
// file name. root is ignored.
func (img *Image) ExistsAsLocalSource(name, _ string) bool {
	m, ok := img.byName[name]
	return ok && m.File != ""
}

// Functions lists every decodable unit of the image in image order: module
// bodies, functions, then methods class by class.
func (img *Image) Functions() []*Ref {
	var out []*Ref
	for _, m := range img.Modules {
		out = append(out, &Ref{Kind: ModuleBody, Module: m})
		for _, f := range m.Functions {
			out = append(out, &Ref{Kind: FunctionRef, Module: m, Func: f})
		}
		for _, c := range m.Classes {
			for _, f := range c.Methods {
				out = append(out, &Ref{Kind: MethodRef, Module: m, Class: c, Func: f})
			}
		}
	}
	return out
}
