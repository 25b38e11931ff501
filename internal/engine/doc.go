// Package engine implements the constraint propagator.
//
// The propagator turns the matcher's precise hits into a per-offset
// resolution. Each blob offset with at least one precise match becomes a
// window holding its viable candidate files.
//
// ARCHITECTURE:
//
// Work Queue:
// Windows live in a min-heap keyed by (candidate count, offset), so the
// most constrained window is always examined first. A separate FIFO queue
// carries forced commits of required files. Nothing recurses and nothing
// backtracks.
//
// Inference Rules (applied until a full pass changes nothing):
//  1. Singleton: a window left with one candidate commits it.
//  2. Uniqueness: a committed file leaves every other window.
//  3. Overlap: candidates overlapping a committed region leave their
//     windows; windows starting inside it are absorbed.
//  4. Required-present: a committed file's references mark their unique
//     definers required. A required file with one placement is committed;
//     candidates overlapping every placement of a required file are pruned.
//  5. Closed groups: k disjoint windows sharing the same k-file set keep
//     those files to themselves.
//
// Components:
// Windows joined by a shared candidate, overlapping spans or a reference
// edge form one component. Components share no state and propagate
// concurrently. Commits are renumbered in (component, local seq) order
// afterwards.
//
// CRITICAL PATTERNS:
//
// Logical Clock
// Every commit is stamped with a monotonic seq from Clock.Next(). The seq
// orders commits and names them in contradiction chains.
//
// Deterministic Scheduling
// Heap ties break by offset; candidate sets are walked in file id order;
// component results are merged in offset order. The same input always
// yields the same Result.
//
// Iteration Budget
// Each component runs under its own Budget. When it runs out, the
// remaining windows are reported unresolved with an ITERATION_CAP
// diagnostic instead of looping on.
package engine
