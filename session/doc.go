// Package session provides SessionStore implementations for persisting
// records of OpenCode sessions, so a later client can resume them.
//
// Available stores:
//   - [MemoryStore] keeps records in memory (useful for testing).
//   - [FileStore] persists records as JSON files on disk.
//
// Both implement [agent.SessionLister], which [agent.Latest] and
// [agent.Client.ContinueLatest] need to find the most recent session.
package session
