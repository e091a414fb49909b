// Package store persists exported session state.
//
// Records live in LevelDB, keyed by peer, LZ4-compressed when that makes
// them smaller. Backups split a blob into Reed-Solomon shards so it
// survives the loss of up to the configured number of parity shards.
//
// Stored state holds private keys in the clear. Protect the database
// directory accordingly.
package store
