// Package dump reads bytecode images: JSON documents holding the decoded
// instruction listings of every module, function, class and method of a
// program, produced offline by a disassembler.
package dump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"bytegraph/internal/disasm"
)

// Image is a loaded bytecode image. It is immutable after Parse returns and
// safe for concurrent reads.
type Image struct {
	Python   string    `json:"python"`
	Builtins []string  `json:"builtins"`
	Modules  []*Module `json:"modules"`

	receiver string
	byName   map[string]*Module
	builtins map[string]bool
}

// Module is one source module.
type Module struct {
	Name      string            `json:"name"`
	File      string            `json:"file,omitempty"`
	Imports   map[string]string `json:"imports,omitempty"` // local alias → dotted target
	Code      Listing           `json:"code"`
	Functions []*Function       `json:"functions,omitempty"`
	Classes   []*Class          `json:"classes,omitempty"`
}

// Function is a top-level function or a method.
type Function struct {
	Name string  `json:"name"`
	Code Listing `json:"code"`
}

// Class is a class definition with its methods.
type Class struct {
	Name    string      `json:"name"`
	Bases   []string    `json:"bases,omitempty"`
	Methods []*Function `json:"methods,omitempty"`
}

// Listing is an instruction sequence. On the wire argval may be any JSON
// scalar; it is kept as text.
type Listing []disasm.Inst

type wireInst struct {
	Offset int             `json:"offset"`
	Opname string          `json:"opname"`
	Opcode int             `json:"opcode"`
	Arg    *int            `json:"arg"`
	Argval json.RawMessage `json:"argval"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Listing) UnmarshalJSON(data []byte) error {
	var wire []wireInst
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(Listing, len(wire))
	prev := -1
	for i, w := range wire {
		if w.Opname == "" {
			return fmt.Errorf("instruction %d: missing opname", i)
		}
		if w.Offset <= prev {
			return fmt.Errorf("instruction %d: offset %d not increasing", i, w.Offset)
		}
		prev = w.Offset
		out[i] = disasm.Inst{
			Offset: w.Offset,
			Opname: w.Opname,
			Opcode: w.Opcode,
			Arg:    w.Arg,
			Argval: argvalText(w.Argval),
		}
	}
	*l = out
	return nil
}

func argvalText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) == nil {
		return buf.String()
	}
	return string(raw)
}

// Option configures an Image at load time.
type Option func(*Image)

// WithReceiver sets the name of the bound-instance parameter that resolves
// against the caller's class. The default is "self".
func WithReceiver(name string) Option {
	return func(img *Image) {
		if name != "" {
			img.receiver = name
		}
	}
}

// Load reads and parses an image file.
func Load(path string, opts ...Option) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dump: open %s: %w", path, err)
	}
	defer f.Close()
	img, err := Parse(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("dump: %s: %w", path, err)
	}
	return img, nil
}

// Parse decodes an image and builds its lookup indexes.
func Parse(r io.Reader, opts ...Option) (*Image, error) {
	var img Image
	dec := json.NewDecoder(r)
	if err := dec.Decode(&img); err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img.receiver = "self"
	for _, opt := range opts {
		opt(&img)
	}

	img.byName = make(map[string]*Module, len(img.Modules))
	for i, m := range img.Modules {
		if m == nil || m.Name == "" {
			return nil, fmt.Errorf("module %d: missing name", i)
		}
		if _, dup := img.byName[m.Name]; dup {
			return nil, fmt.Errorf("duplicate module %s", m.Name)
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("module %s: %w", m.Name, err)
		}
		img.byName[m.Name] = m
	}
	img.builtins = make(map[string]bool, len(img.Builtins))
	for _, b := range img.Builtins {
		img.builtins[b] = true
	}
	return &img, nil
}

// validate rejects null or unnamed functions, classes and methods.
func (m *Module) validate() error {
	for i, f := range m.Functions {
		if f == nil || f.Name == "" {
			return fmt.Errorf("function %d: missing name", i)
		}
	}
	for i, c := range m.Classes {
		if c == nil || c.Name == "" {
			return fmt.Errorf("class %d: missing name", i)
		}
		for j, f := range c.Methods {
			if f == nil || f.Name == "" {
				return fmt.Errorf("class %s: method %d: missing name", c.Name, j)
			}
		}
	}
	return nil
}

// Module returns the module with the given dotted name.
func (img *Image) Module(name string) (*Module, bool) {
	m, ok := img.byName[name]
	return m, ok
}

// Function returns the top-level function with the given name.
func (m *Module) Function(name string) (*Function, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Class returns the class with the given name.
func (m *Module) Class(name string) (*Class, bool) {
	for _, c := range m.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Method returns the method defined directly on the class.
func (c *Class) Method(name string) (*Function, bool) {
	for _, f := range c.Methods {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}
