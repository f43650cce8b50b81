// Package tilestream is a deterministic resource-delivery core for
// spatiotemporal dataset viewers.
//
// The Streamer owns a budgeted residency cache, a deterministic request
// pipeline, spatial (BVH) and temporal (interval tree) indexes, and a
// per-dataset version pin table. Callers ask for resources to become
// resident; external fetch workers pull prioritized requests, fetch
// payloads from a source.TileSource, and report completions back to the
// single-writer core.
//
// Determinism is the design center: eviction, queue order, and index
// results depend only on the operation sequence, never on wall time or
// goroutine scheduling. See the cache, pipeline, spatial and temporal
// packages for the individual contracts.
//
// Delivery to remote clients lives in the protocol package; dataset
// packaging in manifest and chunkfmt; payload backends in source.
package tilestream
