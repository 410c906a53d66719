// Package lattice implements the logical timestamps and frontiers that drive incremental
// computation.
//
// Times form a lattice: a partial order with a least upper bound (Join) and a greatest lower
// bound (Meet). Updates carry a time, operators that combine two updates emit the join of their
// times, and compaction collapses historical times with the AdvanceBy operation.
//
// Key components:
//   - Timestamp: The constraint every time type satisfies.
//   - Epoch: A totally ordered counter, the usual time of a root scope.
//   - Pair: A two-dimensional product-order time, useful for bitemporal inputs.
//   - Nested: The time inside an iterative scope, an outer time paired with a round counter.
//   - Antichain: A frontier, the set of minimal times that may still appear.
//
// Example usage:
//
//	f := lattice.NewAntichain(lattice.Pair{First: 2, Second: 0}, lattice.Pair{First: 0, Second: 3})
//	f.LessEqual(lattice.Pair{First: 2, Second: 1}) // true, the time is in advance of the frontier
//	lattice.AdvanceBy(lattice.Pair{First: 1, Second: 1}, lattice.NewAntichain(lattice.Pair{First: 2})) // (2, 1)
package lattice
