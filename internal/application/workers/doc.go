// Package workers runs a pool of competing consumers.
//
// All pool members share one consumer group, so the store hands each
// undelivered entry to exactly one of them and crashed members' pending
// entries are reclaimed by the survivors. A health monitor periodically
// reports member states and the group's pending backlog.
package workers
