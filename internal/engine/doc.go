// Package engine runs scripts asynchronously. Each submitted run is persisted
// as pending, executed by a session.Session on its own goroutine and ticked
// until it finishes, is cancelled or hits its deadline. Captured lines are
// written to the store and fanned out to live subscribers through LineBroker.
package engine
