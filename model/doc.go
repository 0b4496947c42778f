// Package model defines the domain types shared across the service:
// instruments and their capability documents, monitoring setups with their
// state graphs, and reading records.
//
// The JSON boundary stays permissive (unknown fields ignored, nested
// stateMachine payloads accepted, missing collections normalized to empty),
// but everything past the boundary is strictly typed.
package model
