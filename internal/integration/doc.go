// Package integration holds end-to-end tests that run the indexer, storage
// backends, search engine and watcher together on real files.
package integration
