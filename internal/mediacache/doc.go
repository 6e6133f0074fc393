// Package mediacache provides the per-device thumbnail listing cache.
// Agents upload listings in chunks; panels pull the merged result. Entries
// are bounded by a TTL and evicted when their device disconnects. The
// cache treats thumbnail records as opaque JSON objects keyed by filename.
package mediacache
