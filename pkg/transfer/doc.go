// Package transfer moves asset bytes to local storage in batches.
//
// The orchestrator deduplicates descriptors against the download archive,
// partitions the remainder into fixed-size batches (asset URLs expire, so
// nothing waits behind a giant transfer), and hands each batch to a
// parallel transfer agent or a sequential direct-GET fallback. Every
// confirmed transfer is recorded into the archive before the next batch
// starts, which makes interrupted runs cheap to re-run: archived items are
// skipped, unconfirmed ones are retried from scratch.
package transfer
