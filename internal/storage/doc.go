// Package storage keeps the history of job runs.
//
// Two backends are available: "file" (JSON Lines, compacted to the newest
// entries) and "sqlite". Pending timer tasks are never persisted.
package storage
