package dispatch

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// blockGranule is the address granule used to pick a set. Block start
// addresses are at least halfword aligned; word granules spread ARM-state
// blocks evenly across sets.
const blockGranule = 4

// CacheConfig holds translated-block cache parameters.
type CacheConfig struct {
	// Sets is the number of sets.
	Sets int
	// Ways is the associativity.
	Ways int
}

// DefaultCacheConfig returns a 256-set, 4-way configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Sets: 256,
		Ways: 4,
	}
}

// CacheStats holds translated-block cache statistics.
type CacheStats struct {
	Lookups       uint64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// BlockCache remembers the length of translated blocks, keyed by the address
// of their first instruction. Replacement is LRU within a set.
type BlockCache struct {
	config CacheConfig

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// block lengths, indexed by (setID * ways + wayID)
	lengths []int

	stats CacheStats
}

// NewBlockCache creates an empty translated-block cache.
func NewBlockCache(config CacheConfig) *BlockCache {
	if config.Sets <= 0 {
		config.Sets = 1
	}
	if config.Ways <= 0 {
		config.Ways = 1
	}

	return &BlockCache{
		config: config,
		directory: akitacache.NewDirectory(
			config.Sets,
			config.Ways,
			blockGranule,
			akitacache.NewLRUVictimFinder(),
		),
		lengths: make([]int, config.Sets*config.Ways),
	}
}

// Config returns the cache configuration.
func (c *BlockCache) Config() CacheConfig {
	return c.config
}

// Stats returns cache statistics.
func (c *BlockCache) Stats() CacheStats {
	return c.stats
}

func (c *BlockCache) slot(block *akitacache.Block) int {
	return block.SetID*c.config.Ways + block.WayID
}

// Lookup returns the length of the block translated at pc.
func (c *BlockCache) Lookup(pc uint32) (int, bool) {
	c.stats.Lookups++

	block := c.directory.Lookup(0, uint64(pc))
	if block == nil || !block.IsValid {
		c.stats.Misses++
		return 0, false
	}

	c.stats.Hits++
	c.directory.Visit(block)
	return c.lengths[c.slot(block)], true
}

// Insert records a translated block, evicting the least recently used block
// of the set if it is full. It reports whether a valid block was evicted.
func (c *BlockCache) Insert(pc uint32, length int) bool {
	addr := uint64(pc)

	if block := c.directory.Lookup(0, addr); block != nil && block.IsValid {
		c.lengths[c.slot(block)] = length
		c.directory.Visit(block)
		return false
	}

	victim := c.directory.FindVictim(addr)
	if victim == nil {
		return false
	}

	evicted := victim.IsValid
	if evicted {
		c.stats.Evictions++
	}

	victim.Tag = addr
	victim.IsValid = true
	victim.IsDirty = false
	c.lengths[c.slot(victim)] = length
	c.directory.Visit(victim)

	return evicted
}

// Invalidate drops the block translated at pc, if any.
func (c *BlockCache) Invalidate(pc uint32) {
	block := c.directory.Lookup(0, uint64(pc))
	if block != nil && block.IsValid {
		block.IsValid = false
		c.stats.Invalidations++
	}
}

// Flush drops every translated block.
func (c *BlockCache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				c.stats.Invalidations++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset drops every block and clears statistics.
func (c *BlockCache) Reset() {
	c.directory.Reset()
	c.stats = CacheStats{}
}
