// Package keys implements the API key manager: validated lookups across
// a process-local cache, a shared Redis tier, and a Postgres source of
// truth, with negative-result caching, write-through creation, partial
// updates, and cross-instance cache invalidation over Redis pub/sub.
//
// Lookup order is local tier, distributed tier, store. Faster tiers are
// populated on the way back. Reads from the distributed tier are bounded
// by a fixed timeout and degrade to a miss; writes to it are
// fire-and-forget. Unknown or inactive keys leave a negative marker in
// the distributed tier so repeated probes with bad keys do not reach the
// store.
//
// Every instance must call WatchInvalidations at startup. Positive
// local-tier entries never expire on their own, so without a subscriber
// they become unboundedly stale after updates on other instances.
package keys
