// Package types contains the shared domain model and interfaces used across
// the rotor engine and its internal packages.
//
// Internal packages depend on types rather than on the root rotor package,
// which avoids import cycles while the root package re-exports the public
// pieces via type aliases.
package types
