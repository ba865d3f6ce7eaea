// Package instance owns the set of hosted page instances.
//
// The Coordinator admits open requests against a fixed ceiling, mounts a
// render surface per instance in its own storage partition and drives
// each instance through its lifecycle:
//
//	creating -> loaded -> spoof_applied -> active -> destroyed
//
// Surface events are only posted to the scheduler; every lifecycle step
// runs as a scheduled callback owned by the instance id, so closing or
// refreshing an instance cancels all of its pending work in one call.
package instance
