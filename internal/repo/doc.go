// Package repo holds the repository records exchanged between the source
// adapters and the reconciliation engine, and the pure name-based diff that
// splits a remote and a local set into matching, missing-locally and
// missing-remotely partitions.
package repo
