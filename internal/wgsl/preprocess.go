// Package wgsl composes WGSL kernel sources from a shader library and
// compiles them for the hal device.
//
// Sources use a small preprocessor:
//
//	#ifdef NAME / #ifndef NAME / #else / #endif
//	#define NAME
//	#import name
//
// Defines are plain tokens with no value. A #define in an active block
// stays set for the rest of the source, imports included. Imports resolve
// against an [fs.FS] as "<name>.wgsl" and are inlined at most once per
// source.
package wgsl

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// ErrSyntax is wrapped by every preprocessing error caused by the source text.
var ErrSyntax = errors.New("wgsl: syntax error")

// Preprocessor expands conditional blocks and imports.
// A Preprocessor is not safe for concurrent use; create one per source.
type Preprocessor struct {
	// Library resolves #import directives. May be nil if no source imports.
	Library fs.FS

	// Defines holds the active define tokens.
	Defines map[string]struct{}

	imported map[string]bool
}

// NewPreprocessor returns a preprocessor with the given define tokens active.
func NewPreprocessor(library fs.FS, defines ...string) *Preprocessor {
	p := &Preprocessor{
		Library: library,
		Defines: make(map[string]struct{}, len(defines)),
	}
	for _, d := range defines {
		p.Defines[d] = struct{}{}
	}
	return p
}

// Define activates a token.
func (p *Preprocessor) Define(name string) {
	if p.Defines == nil {
		p.Defines = make(map[string]struct{})
	}
	p.Defines[name] = struct{}{}
}

// DefineList returns the active tokens in sorted order.
func (p *Preprocessor) DefineList() []string {
	out := make([]string, 0, len(p.Defines))
	for d := range p.Defines {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Expand preprocesses source. name is only used in error messages.
func Expand(library fs.FS, source, name string, defines ...string) (string, error) {
	out, err := NewPreprocessor(library, defines...).Preprocess([]byte(source), name)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type condition struct {
	active     bool
	elsePassed bool
}

// Preprocess returns source with directives applied.
func (p *Preprocessor) Preprocess(source []byte, name string) ([]byte, error) {
	var (
		out    []byte
		stack  []condition
		lineNo int
	)
	errorf := func(format string, v ...any) error {
		return fmt.Errorf("%w: %s:%d: %s", ErrSyntax, name, lineNo, fmt.Sprintf(format, v...))
	}
	active := func() bool {
		for _, c := range stack {
			if !c.active {
				return false
			}
		}
		return true
	}

	for len(source) > 0 {
		lineNo++
		var line []byte
		line, source, _ = bytes.Cut(source, []byte("\n"))

		trimmed := bytes.TrimSpace(line)
		if !bytes.HasPrefix(trimmed, []byte("#")) {
			if active() {
				out = append(out, line...)
				out = append(out, '\n')
			}
			continue
		}

		directive, arg, _ := strings.Cut(string(trimmed[1:]), " ")
		arg = strings.TrimSpace(arg)
		if i := strings.Index(arg, "//"); i >= 0 {
			arg = strings.TrimSpace(arg[:i])
		}

		switch directive {
		case "ifdef", "ifndef":
			if arg == "" {
				return nil, errorf("#%s needs an argument", directive)
			}
			_, defined := p.Defines[arg]
			stack = append(stack, condition{active: (directive == "ifdef") == defined})

		case "else":
			if len(stack) == 0 {
				return nil, errorf("#else without #ifdef")
			}
			if arg != "" {
				return nil, errorf("#else takes no argument")
			}
			c := &stack[len(stack)-1]
			if c.elsePassed {
				return nil, errorf("second #else for the same #ifdef")
			}
			c.elsePassed = true
			c.active = !c.active

		case "endif":
			if len(stack) == 0 {
				return nil, errorf("mismatched #endif")
			}
			stack = stack[:len(stack)-1]

		case "define":
			if arg == "" {
				return nil, errorf("#define needs an argument")
			}
			if active() {
				p.Define(arg)
			}

		case "import":
			if arg == "" {
				return nil, errorf("#import needs an argument")
			}
			if !active() || p.imported[arg] {
				continue
			}
			src, err := p.load(arg)
			if err != nil {
				return nil, errorf("import %q: %v", arg, err)
			}
			if p.imported == nil {
				p.imported = make(map[string]bool)
			}
			p.imported[arg] = true
			expanded, err := p.Preprocess(src, arg)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)

		default:
			return nil, errorf("unknown directive #%s", directive)
		}
	}

	if len(stack) != 0 {
		return nil, errorf("unterminated #ifdef")
	}
	return out, nil
}

func (p *Preprocessor) load(name string) ([]byte, error) {
	if p.Library == nil {
		return nil, errors.New("no shader library")
	}
	return fs.ReadFile(p.Library, path.Clean(name)+".wgsl")
}
