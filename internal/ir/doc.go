// Package ir provides the shared records of a library-identification run.
//
// Object files, symbols, reference edges, commits, regions, cliques and
// diagnostics are defined here. All other internal packages import ir; ir
// imports nothing internal. This keeps the data model the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Offsets are byte offsets into the analysed blob unless a name says
//     otherwise (Word* fields count instruction words)
//   - NO float types in canonical output - scores are reported as
//     integer parts-per-million
//   - All JSON tags use snake_case
//   - Commit sequence numbers are logical clocks, never wall-clock time
package ir
