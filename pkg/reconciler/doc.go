/*
Package reconciler keeps the broker's store in sync with the upstream
sandbox account inventory.

Each tick:

 1. Fetch the full upstream list. On transport failure, count it and return
    without touching the store.
 2. Paged-scan every local row. Rows whose external_id is still upstream get
    last_seen_at refreshed. Rows whose external_id vanished are pruned when
    available/deletion_failed, pruned-and-counted-as-deleted when
    pending_deletion, or left alone with a warning when allocated.
 3. Insert a fresh available row for every upstream account not yet known
    locally.

The reconciler never runs two ticks concurrently in the same process (a
tick that fires while the previous one is still in flight is skipped, not
queued) but tolerates running alongside allocators, since every write it
makes is a conditional update.
*/
package reconciler
