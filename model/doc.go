// Package model defines the core identifier and geometry types shared by the
// tilestream packages: resource keys, dataset versions, tile coordinates,
// bounding volumes and time spans.
//
// Types in this package are small value types with deterministic ordering.
// They carry no behavior beyond comparison and coordinate math, so every
// other package can depend on them without cycles.
package model
