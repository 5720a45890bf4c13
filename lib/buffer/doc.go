// Package buffer provides the publication primitives shared by cyclers, the router and the
// parameter store.
//
// Key Components:
//
//   - Buffer: a wait-free (relative to readers) single-writer multi-reader buffer with a fixed
//     number of slots. Each slot carries an age; the writer takes the free slot with the oldest
//     data, readers take the freshest slot not being written. Slot counts are chosen with
//     SlotCount(readers, writers).
//
//   - Watch: a versioned change notifier that lets asynchronous observers (router sources,
//     subscription tasks) wait for a cycler to publish a new slot without polling.
//
// Typical use by a cycler:
//
//	guard := db.NextWrite()
//	fill(guard.Value())
//	guard.Release()
//	watch.Notify()
//
// and by an observer:
//
//	version, err := watch.Changed(ctx, lastVersion)
//	guard := db.NextRead()
//	use(guard.Value())
//	guard.Release()
package buffer
