// Package gpu runs the GPU-consumer timeline of the noise engine.
//
// It is an internal package used by package noise. Everything here executes
// on the goroutine that calls Consumer.Tick; only the image store and the
// pipeline compile workers are safe for concurrent use.
//
// # Architecture Overview
//
// One tick moves a Batch through these stages:
//
//	Batch -> Binder -> Scheduler (fill, update, run) -> Submitter -> Readbacks
//
// Key components:
//
//   - Images: the image store, hal textures with storage, copy-src and
//     copy-dst usage plus a size uniform per image
//   - Binder: resolves and validates requests, uploads parameter buffers
//     and creates the bind groups of one ResourceSet per request
//   - Catalog: one compute pipeline per PipelineKey, compiled by a bounded
//     errgroup in the background and published by Poll
//   - Scheduler: a Loading/Ready(parity) state machine over a double buffer
//     of ResourceSets, emitting one compute pass per set
//   - Submitter: keeps one command encoder open, submits it when the submit
//     flag is set and reopens it right away
//   - Readbacks: texture-to-buffer copies into row-pitch aligned staging
//     buffers, a bounded map wait and one-shot delivery of de-padded bytes
//
// # Resource Lifetime
//
// Parameter buffers and bind groups are allocated per request. They are
// released, together with finished command buffers and retired images,
// once the queue reports the submission that used them as completed.
//
// # Logging
//
// The package logs through the logger installed with SetLogger, which the
// root package keeps in sync. Dropped requests are logged at warn level,
// compile and readback failures at error level and per-tick activity at
// debug level.
package gpu
