// Package push turns registry events into delayed, mergeable notification
// tasks and executes them against a Transport.
//
// Two engines share the generic delay engine in push/delay: PushEngine for
// exact-match subscribers and FuzzyEngine for pattern watchers.
package push
