// Package store persists users, devices and tasks and streams task changes.
//
// Store is the contract the sync engine consumes. SQLiteStore implements
// it on the embedded database; every successful task mutation is published
// on a Bus, from which SubscribeChanges hands out per-user subscriptions.
//
// Reads of unknown ids fail with an error wrapping ErrNotFound. Writes that
// do not affect a row fail with ErrStorageFailure.
//
// ReplaceAllTasks deletes then inserts as two separate steps. A crash in
// between leaves the user with no tasks; clients recover with another
// write-all.
package store
