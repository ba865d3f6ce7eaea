// Package session isolates the web storage of hosted page instances.
//
// Every instance owns a Namespace keyed by its partition key, which must be
// persist:<instance id>. Keys are stored as partitionKey + "_" + key; since
// instance ids have a fixed length, instances sharing one Substrate can
// never see or clear each other's entries. Isolation comes from
// the disjoint key spaces; no cross-instance lock is involved.
//
// Components:
//   - Isolator: namespace registry and page shim attachment
//   - Namespace: local (persistent) and session (per document) areas
//   - Substrate: the shared store behind every local area
//   - MemorySubstrate: in-process Substrate
//
// Page Side:
//  1. The storage shim, preloaded with the persisted entries, replaces
//     localStorage and sessionStorage with non-writable wrappers before
//     page scripts run
//  2. Local writes are mirrored to the host through a page binding
//  3. At DOM-ready the host seeds the wrapper with any entries it missed
//
// Example Usage:
//
//	iso := session.NewIsolator(session.NewMemorySubstrate(), logger)
//	err := iso.Attach(ctx, surface, "persist:lobby_01H...")
//	ns, err := iso.Namespace("persist:lobby_01H...")
//	token, ok := ns.GetItem(session.AreaLocal, "token")
package session
