// Package resultcache memoizes expensive, effectively-pure calls, keyed by
// call identity, with eviction driven by a simulation tick counter rather than
// wall-clock time.
//
// Every cached routine is registered once, with an eviction frequency F. A
// call to [Cache.Sweep] with tick T removes every entry attributed to every
// routine where T mod F == 0. A frequency of 1 therefore means no entry
// survives past the tick it was written in. [Cache.Sweep] and the explicit
// invalidation methods are the only ways entries are removed.
//
// Entries are bucketed per routine, and each bucket is guarded independently,
// so sweeping one routine never blocks a [Cache.Put] for another. Only buckets
// written since their last sweep are visited by [Cache.Sweep].
//
// # Usage
//
//	cache, err := resultcache.New(resultcache.WithDefaultFrequency(4))
//	if err != nil {
//		panic(err)
//	}
//	if err := cache.Register(`path`, 8); err != nil {
//		panic(err)
//	}
//	key := resultcache.Identity(`path`, fromX, fromY, toX, toY)
//	route, err := cache.GetOrCompute(`path`, key, func() (any, error) {
//		return findPath(fromX, fromY, toX, toY)
//	})
package resultcache
