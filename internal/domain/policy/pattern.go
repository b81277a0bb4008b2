// Package policy implements the pure decision core of the slip engine: glob
// pattern matching and deterministic policy evaluation. Nothing in this
// package performs I/O or holds state; every function is safe for unlimited
// concurrent use.
package policy

import "strings"

// Match reports whether value matches pattern. Three pattern forms are
// supported:
//
//   - exact equality: "repos:read" matches only "repos:read"
//   - "*" glob, anywhere in the pattern: "repos:*" matches "repos:read",
//     "*:read" matches "repos:read"
//   - trailing-colon prefix: "repos:" matches "repos:read" and "repos:write"
//
// Match is total: it never panics, and an empty pattern matches only an empty
// value.
func Match(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.ContainsRune(pattern, '*') {
		return globMatch(value, pattern)
	}
	if strings.HasSuffix(pattern, ":") {
		return strings.HasPrefix(value, pattern)
	}
	return value == pattern
}

// MatchAny reports whether value matches at least one of patterns.
func MatchAny(value string, patterns []string) bool {
	for _, p := range patterns {
		if Match(value, p) {
			return true
		}
	}
	return false
}

// globMatch matches value against a pattern containing one or more '*'
// wildcards, each matching any (possibly empty) run of characters. Iterative
// backtracking keeps it linear-ish and panic-free on any input.
func globMatch(value, pattern string) bool {
	var vi, pi int
	star := -1
	backtrack := 0
	for vi < len(value) {
		switch {
		case pi < len(pattern) && (pattern[pi] == value[vi]):
			vi++
			pi++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			backtrack = vi
			pi++
		case star >= 0:
			pi = star + 1
			backtrack++
			vi = backtrack
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
