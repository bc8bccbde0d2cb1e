// Package noise generates procedural noise images with GPU compute kernels.
//
// # Overview
//
// An Engine accepts generation requests from any goroutine and runs them on
// a GPU in bulk. Each request names a target image, a kernel and the
// request size. Requests are only queued by Submit; validation, resource
// binding and dispatch happen when the owner of the engine calls Tick.
//
//	engine, err := noise.NewEngine(device, queue)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	img, _ := engine.CreateImage(noise.Size2D(512, 512), noise.DefaultFormat)
//	engine.Submit(img, kernel.NewFbm(kernel.NewPerlin(42)), noise.Size2D(512, 512))
//	engine.QueueReadback(img)
//
//	for {
//	    if err := engine.Tick(ctx); err != nil {
//	        return err
//	    }
//	    if data, ok, err := engine.TryReceiveReadback(img); ok {
//	        return use(data, err)
//	    }
//	}
//
// # Kernels
//
// Kernel types are registered at setup time. Each type compiles to one
// pipeline per supported dimensionality, in the background; requests for a
// type whose pipeline is still compiling stay queued and are dispatched in
// submission order once it is ready. The built-in types are Perlin and
// Worley generators, Fbm over each of them, the Invert modifier and the
// Blend combiner. See package kernel.
//
// # Readback
//
// QueueReadback registers one image for a single CPU copy of its next
// generation. The copy is delivered through a one-slot channel and polled
// with TryReceiveReadback, which never blocks. A readback that nobody
// receives is dropped.
//
// # Errors
//
// Invalid requests never fail Submit. They are logged at warn level and
// dropped on the consumer timeline without affecting other requests. A
// pipeline that fails to compile makes every later Tick return a
// *CompileError.
//
// # Logging
//
// By default noise logs nothing. Use SetLogger or WithLogger to install a
// *slog.Logger.
package noise
