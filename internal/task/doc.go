// Package task holds the domain model of the execution engine: task
// definitions, execution records, the time arithmetic that ties them
// together and the status resolver. Everything here is pure; the engine
// and scheduler subpackages own the moving parts.
package task
