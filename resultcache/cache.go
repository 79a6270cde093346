package resultcache

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"golang.org/x/sync/singleflight"
)

// indexShards must be a power of two
const indexShards = 64

type (
	// Cache is a thread-safe memoization store. Instances must be initialized
	// using the New factory.
	Cache struct {
		// betteralign:ignore

		tickSource       func() uint64
		logger           *logiface.Logger[logiface.Event]
		defaultFrequency int

		// guards routines and frequencies, never held while a bucket or
		// index shard is locked
		mu          sync.RWMutex
		routines    map[RoutineID]*bucket
		frequencies map[int]*frequencyGroup

		index  [indexShards]indexShard
		flight singleflight.Group

		hits          atomic.Uint64
		misses        atomic.Uint64
		puts          atomic.Uint64
		evictions     atomic.Uint64
		invalidations atomic.Uint64
	}

	// Entry models a single cached call, see Cache.Entry.
	Entry struct {
		Value       any
		Routine     RoutineID
		Key         Key
		Frequency   int
		CreatedTick uint64
	}

	// Stats is a point-in-time snapshot of the counters of a Cache.
	Stats struct {
		Hits          uint64
		Misses        uint64
		Puts          uint64
		Evictions     uint64
		Invalidations uint64
	}

	entry struct {
		bucket *bucket
		Entry
	}

	// bucket holds every entry attributed to a single routine
	bucket struct {
		group   *frequencyGroup
		entries map[Key]*entry
		routine RoutineID
		mu      sync.Mutex
		dirty   bool // in group.dirty, guarded by mu
	}

	// frequencyGroup tracks the buckets sharing an eviction frequency, which
	// have been written since they were last swept
	frequencyGroup struct {
		dirty     map[*bucket]struct{}
		frequency int
		mu        sync.Mutex
	}

	indexShard struct {
		entries map[Key]*entry
		mu      sync.RWMutex
	}
)

// New initializes a new Cache. An error is returned if any option is
// invalid, e.g. a non-positive default frequency.
func New(options ...Option) (*Cache, error) {
	opts, err := resolveOptions(options)
	if err != nil {
		return nil, err
	}
	c := Cache{
		tickSource:       opts.tickSource,
		logger:           opts.logger,
		defaultFrequency: opts.defaultFrequency,
		routines:         make(map[RoutineID]*bucket),
		frequencies:      make(map[int]*frequencyGroup),
	}
	for i := range c.index {
		c.index[i].entries = make(map[Key]*entry)
	}
	return &c, nil
}

// Register records the eviction frequency for a routine, which must happen
// exactly once, before any Put referencing it. Errors will satisfy
// errors.Is(err, ErrRegistrationConflict).
func (x *Cache) Register(routine RoutineID, frequency int) error {
	if frequency <= 0 {
		return fmt.Errorf(`%w: routine %q: %d`, ErrInvalidFrequency, routine, frequency)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.routines[routine]; ok {
		return fmt.Errorf(`%w: %q`, ErrRoutineRegistered, routine)
	}

	group := x.frequencies[frequency]
	if group == nil {
		group = &frequencyGroup{
			frequency: frequency,
			dirty:     make(map[*bucket]struct{}),
		}
		x.frequencies[frequency] = group
	}

	x.routines[routine] = &bucket{
		routine: routine,
		group:   group,
		entries: make(map[Key]*entry),
	}

	return nil
}

// RegisterDefault registers the routine using the default frequency.
func (x *Cache) RegisterDefault(routine RoutineID) error {
	return x.Register(routine, x.defaultFrequency)
}

// Frequency returns the eviction frequency of a registered routine.
func (x *Cache) Frequency(routine RoutineID) (int, bool) {
	if b := x.bucket(routine); b != nil {
		return b.group.frequency, true
	}
	return 0, false
}

// TryGet looks up a value by key.
func (x *Cache) TryGet(key Key) (any, bool) {
	if e := x.lookup(key); e != nil {
		x.hits.Add(1)
		return e.Value, true
	}
	x.misses.Add(1)
	return nil, false
}

// Entry returns a copy of the entry for key, if any. Unlike TryGet, it does
// not affect Stats.
func (x *Cache) Entry(key Key) (Entry, bool) {
	if e := x.lookup(key); e != nil {
		return e.Entry, true
	}
	return Entry{}, false
}

// Put records the value for key, attributing it to routine, which must
// already be registered. Any existing entry for key is replaced.
func (x *Cache) Put(key Key, value any, routine RoutineID) error {
	b := x.bucket(routine)
	if b == nil {
		return fmt.Errorf(`%w: %q`, ErrRoutineNotRegistered, routine)
	}

	e := &entry{
		bucket: b,
		Entry: Entry{
			Key:         key,
			Value:       value,
			Routine:     routine,
			Frequency:   b.group.frequency,
			CreatedTick: x.tick(),
		},
	}

	shard := x.shard(key)

	// bucket then index, so a concurrent sweep of this bucket removes either
	// both or neither
	b.mu.Lock()
	b.entries[key] = e
	if !b.dirty {
		b.dirty = true
		b.group.mu.Lock()
		b.group.dirty[b] = struct{}{}
		b.group.mu.Unlock()
	}
	shard.mu.Lock()
	old := shard.entries[key]
	shard.entries[key] = e
	shard.mu.Unlock()
	b.mu.Unlock()

	if old != nil && old.bucket != b {
		// identity collision across routines, the new routine owns it now
		old.bucket.remove(key, old)
	}

	x.puts.Add(1)

	return nil
}

// GetOrCompute returns the cached value for key, or calls fn, caching and
// returning its result. Concurrent callers missing on the same key share a
// single call to fn. Errors from fn are returned, and not cached.
func (x *Cache) GetOrCompute(routine RoutineID, key Key, fn func() (any, error)) (any, error) {
	if v, ok := x.TryGet(key); ok {
		return v, nil
	}
	if x.bucket(routine) == nil {
		return nil, fmt.Errorf(`%w: %q`, ErrRoutineNotRegistered, routine)
	}
	v, err, _ := x.flight.Do(strconv.FormatUint(uint64(key), 16), func() (any, error) {
		if e := x.lookup(key); e != nil {
			return e.Value, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		if err := x.Put(key, v, routine); err != nil {
			return nil, err
		}
		return v, nil
	})
	return v, err
}

// Sweep removes all entries attributed to every registered routine whose
// frequency divides currentTick, returning the number of entries removed.
func (x *Cache) Sweep(currentTick uint64) int {
	x.mu.RLock()
	var groups []*frequencyGroup
	for frequency, group := range x.frequencies {
		if currentTick%uint64(frequency) == 0 {
			groups = append(groups, group)
		}
	}
	x.mu.RUnlock()

	var removed int
	for _, group := range groups {
		group.mu.Lock()
		dirty := group.dirty
		if len(dirty) != 0 {
			group.dirty = make(map[*bucket]struct{}, len(dirty))
		}
		group.mu.Unlock()

		for b := range dirty {
			removed += x.evict(b.drain())
		}
	}

	if removed != 0 {
		x.evictions.Add(uint64(removed))
		x.logger.Debug().
			Uint64(`tick`, currentTick).
			Int(`removed`, removed).
			Log(`resultcache: swept`)
	}

	return removed
}

// Invalidate removes the entry for key, reporting if one was removed.
func (x *Cache) Invalidate(key Key) bool {
	shard := x.shard(key)
	shard.mu.Lock()
	e := shard.entries[key]
	if e != nil {
		delete(shard.entries, key)
	}
	shard.mu.Unlock()
	if e == nil {
		return false
	}
	e.bucket.remove(key, e)
	x.invalidations.Add(1)
	return true
}

// InvalidateRoutine removes every entry attributed to routine, returning the
// number removed.
func (x *Cache) InvalidateRoutine(routine RoutineID) int {
	b := x.bucket(routine)
	if b == nil {
		return 0
	}
	removed := x.evict(b.drain())
	x.invalidations.Add(uint64(removed))
	return removed
}

// Len returns the number of entries currently cached.
func (x *Cache) Len() (n int) {
	for i := range x.index {
		shard := &x.index[i]
		shard.mu.RLock()
		n += len(shard.entries)
		shard.mu.RUnlock()
	}
	return n
}

// Stats returns a snapshot of the cache counters.
func (x *Cache) Stats() Stats {
	return Stats{
		Hits:          x.hits.Load(),
		Misses:        x.misses.Load(),
		Puts:          x.puts.Load(),
		Evictions:     x.evictions.Load(),
		Invalidations: x.invalidations.Load(),
	}
}

func (x *Cache) bucket(routine RoutineID) *bucket {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.routines[routine]
}

func (x *Cache) shard(key Key) *indexShard {
	// the low bits of an xxhash are well distributed
	return &x.index[uint64(key)&(indexShards-1)]
}

func (x *Cache) lookup(key Key) *entry {
	shard := x.shard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.entries[key]
}

func (x *Cache) tick() uint64 {
	if x.tickSource != nil {
		return x.tickSource()
	}
	return 0
}

// evict removes drained entries from the index, unless they were since
// replaced, returning the number actually removed
func (x *Cache) evict(entries map[Key]*entry) (removed int) {
	for key, e := range entries {
		shard := x.shard(key)
		shard.mu.Lock()
		if shard.entries[key] == e {
			delete(shard.entries, key)
			removed++
		}
		shard.mu.Unlock()
	}
	return removed
}

// drain takes every entry out of the bucket
func (x *bucket) drain() map[Key]*entry {
	x.mu.Lock()
	defer x.mu.Unlock()
	entries := x.entries
	if len(entries) != 0 {
		x.entries = make(map[Key]*entry, len(entries))
	}
	x.dirty = false
	return entries
}

func (x *bucket) remove(key Key, e *entry) {
	x.mu.Lock()
	if x.entries[key] == e {
		delete(x.entries, key)
	}
	x.mu.Unlock()
}
