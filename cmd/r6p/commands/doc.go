// Package commands implements the r6p command line.
//
// State lives in a LevelDB directory under --home. Flags may also be set
// through R6P_* environment variables or an r6p.yaml/r6p.toml config file
// in the home directory.
package commands
