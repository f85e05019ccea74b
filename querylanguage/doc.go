// Package querylanguage provides the filter expression tree consumed by the
// query compiler. Expressions are produced by the request parser; their
// String form is the canonical text used when generating next links.
package querylanguage
