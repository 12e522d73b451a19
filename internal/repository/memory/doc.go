// Package memory provides mutex-guarded in-process implementations of the
// repository interfaces. They honor the same claim and locking semantics as
// the MySQL implementations and stand in for them in tests.
package memory
