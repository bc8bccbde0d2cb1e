// Command noisegen renders procedural noise images on the GPU.
//
// A job is either read from a TOML file with -job or built from flags for
// a single image:
//
//	noisegen -kernel 'fbm<perlin>' -size 512x512 -seed 7 -out clouds
//	noisegen -job textures.toml -backend software
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gogpu/noise"
	"github.com/gogpu/noise/internal/device"
	"github.com/gogpu/noise/kernel"
)

func main() {
	var (
		jobPath = flag.String("job", "", "TOML job file; overrides the single image flags")
		backend = flag.String("backend", "", "GPU backend: vulkan, software or noop (default: best available)")
		shaders = flag.String("shaders", "", "shader format: spirv or wgsl (default: by backend)")
		out     = flag.String("out", "", "output directory")
		format  = flag.String("format", "", "output format: png or tiff")
		scale   = flag.Float64("scale", 0, "resize outputs by this factor")
		timeout = flag.Duration("timeout", 0, "overall time limit")
		verbose = flag.Bool("v", false, "log scheduler activity")

		name   = flag.String("name", "noise", "image name")
		kern   = flag.String("kernel", "fbm<perlin>", "kernel for the single image")
		size   = flag.String("size", "256x256", "image size, WxH or WxHxD")
		seed   = flag.Uint("seed", 0, "kernel seed")
	)
	flag.Parse()

	var (
		job Job
		err error
	)
	if *jobPath != "" {
		job, err = LoadJob(*jobPath)
	} else {
		job, err = singleJob(*name, *kern, *size, uint32(*seed))
	}
	if err != nil {
		log.Fatal(err)
	}

	// Flags override the job file.
	if *backend != "" {
		job.Backend = *backend
	}
	if *shaders != "" {
		job.Shaders = *shaders
	}
	if *out != "" {
		job.Output = *out
	}
	if *format != "" {
		job.Format = *format
	}
	if *scale != 0 {
		job.Scale = *scale
	}
	if *timeout != 0 {
		job.Timeout = timeout.String()
	}
	if err := job.Validate(); err != nil {
		log.Fatal(err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), job.Deadline())
	defer cancel()

	paths, err := run(ctx, job, logger)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}

// singleJob builds a one image job from the command line flags.
func singleJob(name, tag, size string, seed uint32) (Job, error) {
	dims, err := parseSize(size)
	if err != nil {
		return Job{}, err
	}
	job := Job{
		Images: []ImageSpec{{
			Name:   name,
			Size:   dims,
			Stages: []StageSpec{{Kernel: tag, Seed: seed}},
		}},
	}
	job.setDefaults()
	return job, job.Validate()
}

func parseSize(s string) ([]uint32, error) {
	parts := strings.Split(s, "x")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%w: size %q, want WxH or WxHxD", ErrJob, s)
	}
	dims := make([]uint32, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: size %q: %v", ErrJob, s, err)
		}
		dims[i] = uint32(n)
	}
	return dims, nil
}

// run executes job and returns the files it wrote.
func run(ctx context.Context, job Job, logger *slog.Logger) ([]string, error) {
	dev, err := device.Open(job.Backend)
	if err != nil {
		return nil, err
	}
	defer dev.Close()
	job.Backend = dev.Backend
	logger.Info("noisegen: device opened", "backend", dev.Backend, "adapter", dev.Info.Name)

	engine, err := noise.NewEngine(dev.Device, dev.Queue,
		noise.WithLogger(logger),
		noise.WithShaderFormat(job.ShaderFormat()),
		noise.WithLimits(dev.Limits),
	)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	if err := engine.WaitPipelines(ctx); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(job.Output, 0o755); err != nil {
		return nil, err
	}

	type pending struct {
		name string
		id   noise.ImageID
		size noise.Size
	}
	ids := make(map[string]noise.ImageID, len(job.Images))
	lookup := func(name string) (noise.ImageID, bool) {
		id, ok := ids[name]
		return id, ok
	}

	var waiting []pending
	for _, spec := range job.Images {
		size, err := spec.size()
		if err != nil {
			return nil, err
		}
		id, err := engine.CreateImage(size, noise.DefaultFormat)
		if err != nil {
			return nil, fmt.Errorf("noisegen: image %q: %w", spec.Name, err)
		}
		ids[spec.Name] = id

		seq := engine.Sequence(id)
		for i, st := range spec.Stages {
			k, err := st.kernel(lookup)
			if err != nil {
				return nil, fmt.Errorf("image %q stage %d: %w", spec.Name, i, err)
			}
			switch k.TypeTag() {
			case kernel.BlendTag:
				seq.Combine(k)
			case kernel.InvertTag:
				seq.Modify(k)
			default:
				seq.Generate(k)
			}
		}
		if _, err := seq.Submit(true); err != nil {
			return nil, fmt.Errorf("noisegen: image %q: %w", spec.Name, err)
		}
		waiting = append(waiting, pending{name: spec.Name, id: id, size: size})
	}

	var paths []string
	for len(waiting) > 0 {
		if err := engine.Tick(ctx); err != nil {
			return paths, err
		}
		rest := waiting[:0]
		for _, p := range waiting {
			data, ok, err := engine.TryReceiveReadback(p.id)
			switch {
			case !ok:
				rest = append(rest, p)
				continue
			case err != nil:
				return paths, fmt.Errorf("noisegen: image %q: %w", p.name, err)
			}
			written, err := WriteImage(job.Output, p.name, p.size, data, job.Format, job.Scale)
			paths = append(paths, written...)
			if err != nil {
				return paths, err
			}
			logger.Debug("noisegen: image written", "image", p.name, "files", len(written))
		}
		waiting = rest

		if len(waiting) > 0 {
			select {
			case <-ctx.Done():
				return paths, fmt.Errorf("noisegen: %d images unfinished: %w", len(waiting), ctx.Err())
			case <-time.After(time.Millisecond):
			}
		}
	}

	stats := engine.Stats()
	logger.Info("noisegen: done",
		"images", len(job.Images),
		"files", len(paths),
		"dispatches", stats.Dispatched,
		"submissions", stats.Submissions,
	)
	return paths, nil
}
