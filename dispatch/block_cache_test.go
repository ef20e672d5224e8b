package dispatch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dyncom/dispatch"
)

var _ = Describe("BlockCache", func() {
	var cache *dispatch.BlockCache

	BeforeEach(func() {
		cache = dispatch.NewBlockCache(dispatch.CacheConfig{Sets: 4, Ways: 2})
	})

	It("should miss on an empty cache", func() {
		_, ok := cache.Lookup(0x1000)
		Expect(ok).To(BeFalse())
		Expect(cache.Stats().Misses).To(Equal(uint64(1)))
	})

	It("should hit after insert and return the block length", func() {
		cache.Insert(0x1000, 6)
		length, ok := cache.Lookup(0x1000)
		Expect(ok).To(BeTrue())
		Expect(length).To(Equal(6))
		Expect(cache.Stats().Hits).To(Equal(uint64(1)))
	})

	It("should update the length of a present block", func() {
		cache.Insert(0x1000, 6)
		Expect(cache.Insert(0x1000, 3)).To(BeFalse())
		length, _ := cache.Lookup(0x1000)
		Expect(length).To(Equal(3))
	})

	It("should evict the least recently used block of a full set", func() {
		// 4 sets of 4-byte granules: addresses 16 bytes apart share a set.
		cache.Insert(0x1000, 1)
		cache.Insert(0x1010, 2)
		cache.Lookup(0x1000)

		Expect(cache.Insert(0x1020, 3)).To(BeTrue())
		Expect(cache.Stats().Evictions).To(Equal(uint64(1)))

		_, ok := cache.Lookup(0x1010)
		Expect(ok).To(BeFalse())
		_, ok = cache.Lookup(0x1000)
		Expect(ok).To(BeTrue())
	})

	It("should invalidate a single block", func() {
		cache.Insert(0x1000, 1)
		cache.Insert(0x1004, 1)
		cache.Invalidate(0x1000)

		_, ok := cache.Lookup(0x1000)
		Expect(ok).To(BeFalse())
		_, ok = cache.Lookup(0x1004)
		Expect(ok).To(BeTrue())
		Expect(cache.Stats().Invalidations).To(Equal(uint64(1)))
	})

	It("should flush every block", func() {
		cache.Insert(0x1000, 1)
		cache.Insert(0x2000, 1)
		cache.Flush()

		_, ok := cache.Lookup(0x1000)
		Expect(ok).To(BeFalse())
		_, ok = cache.Lookup(0x2000)
		Expect(ok).To(BeFalse())
	})

	It("should clear statistics on reset", func() {
		cache.Insert(0x1000, 1)
		cache.Lookup(0x1000)
		cache.Reset()

		Expect(cache.Stats()).To(Equal(dispatch.CacheStats{}))
		_, ok := cache.Lookup(0x1000)
		Expect(ok).To(BeFalse())
	})

	It("should clamp degenerate configurations", func() {
		c := dispatch.NewBlockCache(dispatch.CacheConfig{})
		Expect(c.Config()).To(Equal(dispatch.CacheConfig{Sets: 1, Ways: 1}))
	})
})
