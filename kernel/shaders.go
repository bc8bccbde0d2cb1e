package kernel

import (
	"embed"
	"io/fs"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

// Library is the WGSL library that kernel sources #import from.
var Library fs.FS = mustSub(shaderFS, "shaders")

func mustSub(f fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(f, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// mustShader returns an embedded shader source by name.
func mustShader(name string) string {
	src, err := fs.ReadFile(shaderFS, "shaders/"+name+".wgsl")
	if err != nil {
		panic("kernel: missing shader " + name)
	}
	return string(src)
}
