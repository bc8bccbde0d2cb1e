package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/noise"
	"github.com/gogpu/noise/kernel"
)

// ErrJob is wrapped by every job validation error.
var ErrJob = errors.New("noisegen: invalid job")

// Job is a generation job, usually decoded from a TOML file:
//
//	backend = "vulkan"
//	output  = "out"
//	format  = "png"
//
//	[[image]]
//	name = "clouds"
//	size = [256, 256]
//
//	  [[image.stage]]
//	  kernel = "fbm<perlin>"
//	  seed   = 7
//	  flags  = ["tileable", "remap"]
//
//	  [[image.stage]]
//	  kernel = "invert"
type Job struct {
	Backend string      `toml:"backend"`
	Shaders string      `toml:"shaders"`
	Output  string      `toml:"output"`
	Format  string      `toml:"format"`
	Scale   float64     `toml:"scale"`
	Timeout string      `toml:"timeout"`
	Images  []ImageSpec `toml:"image"`
}

// ImageSpec is one output image and the stages that generate it.
type ImageSpec struct {
	Name   string      `toml:"name"`
	Size   []uint32    `toml:"size"`
	Stages []StageSpec `toml:"stage"`
}

// StageSpec is one kernel applied to an image. Fields a kernel does not
// use are ignored; zero values take the kernel defaults.
type StageSpec struct {
	Kernel      string   `toml:"kernel"`
	Seed        uint32   `toml:"seed"`
	Frequency   float32  `toml:"frequency"`
	Flags       []string `toml:"flags"`
	Octaves     uint32   `toml:"octaves"`
	Lacunarity  float32  `toml:"lacunarity"`
	Persistence float32  `toml:"persistence"`
	Other       string   `toml:"other"`
	Factor      float32  `toml:"factor"`
	Mode        string   `toml:"mode"`
}

// LoadJob reads and validates a job file.
func LoadJob(path string) (Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return Job{}, err
	}
	defer f.Close()
	return DecodeJob(f)
}

// DecodeJob decodes a TOML job, applies defaults and validates it.
// Unknown keys are rejected.
func DecodeJob(r io.Reader) (Job, error) {
	var job Job
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("noisegen: decode job: %w", err)
	}
	job.setDefaults()
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (j *Job) setDefaults() {
	if j.Output == "" {
		j.Output = "."
	}
	if j.Format == "" {
		j.Format = formatPNG
	}
	if j.Scale == 0 {
		j.Scale = 1
	}
	if j.Timeout == "" {
		j.Timeout = "30s"
	}
}

// ShaderFormat returns the configured shader format. SPIR-V is the
// default for vulkan, WGSL for every other backend.
func (j Job) ShaderFormat() noise.ShaderFormat {
	switch j.Shaders {
	case "spirv":
		return noise.ShaderSPIRV
	case "wgsl":
		return noise.ShaderWGSL
	}
	if j.Backend == "" || j.Backend == "vulkan" {
		return noise.ShaderSPIRV
	}
	return noise.ShaderWGSL
}

// Deadline returns the parsed timeout.
func (j Job) Deadline() time.Duration {
	d, _ := time.ParseDuration(j.Timeout)
	return d
}

// Validate checks the job without touching a GPU.
func (j Job) Validate() error {
	if j.Format != formatPNG && j.Format != formatTIFF {
		return fmt.Errorf("%w: format %q, want png or tiff", ErrJob, j.Format)
	}
	if j.Shaders != "" && j.Shaders != "spirv" && j.Shaders != "wgsl" {
		return fmt.Errorf("%w: shaders %q, want spirv or wgsl", ErrJob, j.Shaders)
	}
	if j.Scale <= 0 || j.Scale > 16 {
		return fmt.Errorf("%w: scale %g out of range (0, 16]", ErrJob, j.Scale)
	}
	if d, err := time.ParseDuration(j.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("%w: timeout %q", ErrJob, j.Timeout)
	}
	if len(j.Images) == 0 {
		return fmt.Errorf("%w: no images", ErrJob)
	}

	seen := make(map[string]noise.Size, len(j.Images))
	for _, img := range j.Images {
		if img.Name == "" || strings.ContainsAny(img.Name, `/\`) {
			return fmt.Errorf("%w: image name %q", ErrJob, img.Name)
		}
		if _, dup := seen[img.Name]; dup {
			return fmt.Errorf("%w: duplicate image %q", ErrJob, img.Name)
		}
		size, err := img.size()
		if err != nil {
			return err
		}
		if len(img.Stages) == 0 {
			return fmt.Errorf("%w: image %q has no stages", ErrJob, img.Name)
		}
		for i, st := range img.Stages {
			if _, err := st.kernel(func(name string) (noise.ImageID, bool) {
				other, ok := seen[name]
				return 1, ok && other == size
			}); err != nil {
				return fmt.Errorf("image %q stage %d: %w", img.Name, i, err)
			}
		}
		seen[img.Name] = size
	}
	return nil
}

func (s ImageSpec) size() (noise.Size, error) {
	var size noise.Size
	switch len(s.Size) {
	case 2:
		size = noise.Size2D(s.Size[0], s.Size[1])
	case 3:
		size = noise.Size3D(s.Size[0], s.Size[1], s.Size[2])
	default:
		return size, fmt.Errorf("%w: image %q size %v, want [w, h] or [w, h, d]", ErrJob, s.Name, s.Size)
	}
	if err := size.Validate(); err != nil {
		return size, fmt.Errorf("%w: image %q: %v", ErrJob, s.Name, err)
	}
	return size, nil
}

// kernel builds the stage's kernel. lookup resolves the image a blend
// stage reads; only images listed earlier in the job can be read.
func (s StageSpec) kernel(lookup func(name string) (noise.ImageID, bool)) (kernel.Kernel, error) {
	switch s.Kernel {
	case kernel.PerlinTag:
		return s.perlin()
	case kernel.WorleyTag:
		return s.worley()
	case kernel.FbmTag(kernel.PerlinTag):
		p, err := s.perlin()
		if err != nil {
			return nil, err
		}
		return fbmOf(s, p), nil
	case kernel.FbmTag(kernel.WorleyTag):
		w, err := s.worley()
		if err != nil {
			return nil, err
		}
		return fbmOf(s, w), nil
	case kernel.InvertTag:
		return kernel.Invert{}, nil
	case kernel.BlendTag:
		other, ok := lookup(s.Other)
		if !ok {
			return nil, fmt.Errorf("%w: blend reads %q, which is not an earlier image of the same size", ErrJob, s.Other)
		}
		mode, err := blendMode(s.Mode)
		if err != nil {
			return nil, err
		}
		factor := s.Factor
		if factor == 0 {
			factor = 0.5
		}
		return kernel.Blend{Other: other, Factor: factor, Mode: mode}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kernel %q", ErrJob, s.Kernel)
	}
}

func (s StageSpec) perlin() (kernel.Perlin, error) {
	p := kernel.NewPerlin(s.Seed)
	if s.Frequency != 0 {
		p.Frequency = s.Frequency
	}
	if s.Flags != nil {
		p.Flags = 0
	}
	for _, f := range s.Flags {
		switch f {
		case "tileable":
			p.Flags |= kernel.PerlinTileable
		case "remap":
			p.Flags |= kernel.PerlinRemap
		case "cubic":
			p.Flags |= kernel.PerlinInterpolateCubic
		default:
			return p, fmt.Errorf("%w: perlin flag %q", ErrJob, f)
		}
	}
	return p, nil
}

func (s StageSpec) worley() (kernel.Worley, error) {
	w := kernel.NewWorley(s.Seed)
	if s.Frequency != 0 {
		w.Frequency = s.Frequency
	}
	for _, f := range s.Flags {
		switch f {
		case "tileable":
			w.Flags |= kernel.WorleyTileable
		case "invert":
			w.Flags |= kernel.WorleyInvert
		default:
			return w, fmt.Errorf("%w: worley flag %q", ErrJob, f)
		}
	}
	return w, nil
}

func fbmOf[T kernel.Kernel](s StageSpec, base T) kernel.Fbm[T] {
	f := kernel.NewFbm(base)
	if s.Octaves != 0 {
		f.Octaves = s.Octaves
	}
	if s.Lacunarity != 0 {
		f.Lacunarity = s.Lacunarity
	}
	if s.Persistence != 0 {
		f.Persistence = s.Persistence
	}
	return f
}

func blendMode(name string) (kernel.BlendMode, error) {
	switch name {
	case "", "mix":
		return kernel.BlendMix, nil
	case "add":
		return kernel.BlendAdd, nil
	case "multiply":
		return kernel.BlendMultiply, nil
	case "min":
		return kernel.BlendMin, nil
	case "max":
		return kernel.BlendMax, nil
	}
	return 0, fmt.Errorf("%w: blend mode %q", ErrJob, name)
}
