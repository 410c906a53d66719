// Package dataflow assembles incremental computations from collections and operators.
//
// A computation lives in a Scope owned by a Worker. Input sessions feed timestamped updates
// into collections; operators transform collections into new collections. Stateless operators
// (Map, Filter, Concat, ...) pass records straight through. Stateful operators keep their input
// indexed in arrangements: Join matches the arrangements of its two inputs, Reduce recomputes
// per-key aggregates at every time whose accumulation may have changed and emits the difference,
// and Iterate drives a nested scope until its feedback dies out.
//
// Scheduling is lockstep: every call to Worker.Step flushes the inputs, moves the scope frontier
// to the meet of the input frontiers and runs each operator once, in construction order. A
// Cluster runs several workers on goroutines and partitions arranged data by key between them.
package dataflow
