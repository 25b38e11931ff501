// Package harness runs end-to-end identification scenarios over synthetic
// corpora.
//
// A scenario declares candidate objects, lays out a blob from them, runs
// the full analysis and checks assertions against the resulting report.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	base_address: 0x80000400
//	objects:
//	  - id: main.o
//	    seed: 1
//	    instructions: 3
//	    defines: [main]
//	    references: [osInit]
//	  - id: parameters.o
//	    zeros: 16
//	blob:
//	  - object: main.o
//	  - zeros: 16
//	  - object: osInit.o
//	    flip: { byte: 8, mask: 0x80 }
//	assertions:
//	  - type: region
//	    offset: 0
//	    confidence: certain
//	    files: [main.o]
//	  - type: final_state
//	    table: regions
//	    where: { start: 12 }
//	    expect: { confidence: eliminated }
//
// Object text comes from seed and instructions (a word sequence unique to
// the seed), zeros (an all-zero text), text (raw words) or same_as
// (another object's text).
//
// # Assertion Types
//
//   - region: the region at offset has the given confidence and files
//   - clique: a clique with exactly these members exists
//   - diagnostic: a diagnostic with code (and offset, chain) exists
//   - diagnostic_count: exactly count diagnostics carry code
//   - commit_order: files were committed in this relative order
//   - coverage: regions of a confidence sum to bytes
//   - symbol: a placed symbol has the given address
//   - final_state: queries a stored run table and verifies expected values
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite store with a fixed
// run id. The report assertions see is the one read back from the store,
// so each run also checks that stored reports replay to the same digest.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/scenario_a.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
