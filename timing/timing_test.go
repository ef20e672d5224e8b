package timing_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dyncom/timing"
)

type counter struct {
	n int64
}

func (c *counter) DownCount() int64     { return c.n }
func (c *counter) SetDownCount(n int64) { c.n = n }

var _ = Describe("Timing", func() {
	var (
		t *timing.Timing
		c *counter
	)

	BeforeEach(func() {
		t = timing.New(
			timing.WithSliceLength(100),
			timing.WithLogger(GinkgoLogr),
		)
		c = &counter{}
		t.Attach(c)
	})

	It("should issue a first slice on attach", func() {
		Expect(c.n).To(Equal(int64(100)))
		Expect(t.SliceLength()).To(Equal(int64(100)))
	})

	It("should ignore a second attach of the same counter", func() {
		c.n = 40
		t.Attach(c)
		Expect(c.n).To(Equal(int64(40)))
	})

	It("should fold an underflowed slice into global time", func() {
		c.n = -5

		t.Advance()

		Expect(t.Ticks()).To(Equal(uint64(105)))
		Expect(c.n).To(Equal(int64(100)))
		Expect(t.Advances()).To(Equal(uint64(1)))
	})

	It("should leave non-negative counters alone", func() {
		c.n = 10

		t.Advance()

		Expect(t.Ticks()).To(BeZero())
		Expect(c.n).To(Equal(int64(10)))
		Expect(t.Advances()).To(BeZero())
	})

	It("should advance by the longest slice among underflowed counters", func() {
		other := &counter{}
		t.Attach(other)
		c.n = -1
		other.n = -20

		t.Advance()

		Expect(t.Ticks()).To(Equal(uint64(120)))
		Expect(c.n).To(Equal(int64(100)))
		Expect(other.n).To(Equal(int64(100)))
	})

	It("should not count slices run in parallel twice", func() {
		other := &counter{}
		t.Attach(other)

		c.n = -5
		t.Advance()
		Expect(t.Ticks()).To(Equal(uint64(105)))
		Expect(other.n).To(Equal(int64(100)))

		other.n = -3
		t.Advance()
		Expect(t.Ticks()).To(Equal(uint64(105)))
		Expect(other.n).To(Equal(int64(100)))

		c.n = 0
		other.n = -1
		t.Advance()
		Expect(t.Ticks()).To(Equal(uint64(206)))
		Expect(t.Advances()).To(Equal(uint64(3)))
	})

	Describe("events", func() {
		var (
			fired []uint64
			late  []int64
			kind  timing.EventType
		)

		BeforeEach(func() {
			fired = nil
			late = nil
			kind = t.RegisterEvent("probe", func(userdata uint64, cyclesLate int64) {
				fired = append(fired, userdata)
				late = append(late, cyclesLate)
			})
		})

		It("should shorten the running slice to reach the event", func() {
			t.ScheduleEvent(30, kind, 1)
			Expect(c.n).To(Equal(int64(30)))
		})

		It("should fire due events on advance with their lateness", func() {
			t.ScheduleEvent(30, kind, 1)
			c.n = -2

			t.Advance()

			Expect(fired).To(Equal([]uint64{1}))
			Expect(late).To(Equal([]int64{2}))
			Expect(t.Ticks()).To(Equal(uint64(32)))
			Expect(t.PendingEvents()).To(BeZero())
		})

		It("should fire simultaneous events in scheduling order", func() {
			t.ScheduleEvent(10, kind, 1)
			t.ScheduleEvent(10, kind, 2)
			t.ScheduleEvent(5, kind, 3)
			c.n = -6

			t.Advance()

			Expect(fired).To(Equal([]uint64{3, 1, 2}))
		})

		It("should keep future events pending and cut the next slice", func() {
			t.ScheduleEvent(150, kind, 7)
			c.n = -1

			t.Advance()

			Expect(fired).To(BeEmpty())
			Expect(t.Ticks()).To(Equal(uint64(101)))
			Expect(c.n).To(Equal(int64(49)))
		})

		It("should let callbacks schedule further events", func() {
			var rearm timing.EventType
			rearm = t.RegisterEvent("rearm", func(userdata uint64, _ int64) {
				fired = append(fired, userdata)
				if userdata < 3 {
					t.ScheduleEvent(10, rearm, userdata+1)
				}
			})
			t.ScheduleEvent(10, rearm, 1)

			for i := 0; i < 3; i++ {
				c.n = -1
				t.Advance()
			}

			Expect(fired).To(Equal([]uint64{1, 2, 3}))
		})

		It("should drop unscheduled events", func() {
			t.ScheduleEvent(10, kind, 1)
			t.ScheduleEvent(10, kind, 2)
			t.UnscheduleEvent(kind, 1)
			c.n = -1

			t.Advance()

			Expect(fired).To(Equal([]uint64{2}))
		})

		It("should ignore unregistered event types", func() {
			t.ScheduleEvent(10, timing.EventType(42), 1)
			Expect(t.PendingEvents()).To(BeZero())
		})
	})

	It("should burn the remaining slice on idle", func() {
		c.n = 60

		t.Idle(c)

		Expect(c.n).To(BeZero())
		Expect(t.IdledCycles()).To(Equal(uint64(60)))
	})

	It("should only idle the calling counter", func() {
		busy := &counter{}
		t.Attach(busy)
		busy.n = 92

		t.Idle(c)
		t.Advance()

		Expect(busy.n).To(Equal(int64(92)))
		Expect(t.IdledCycles()).To(Equal(uint64(100)))
		Expect(t.Ticks()).To(Equal(uint64(100)))
		Expect(c.n).To(Equal(int64(100)))
	})

	It("should ignore idle from a counter that is not attached", func() {
		stray := &counter{n: 30}

		t.Idle(stray)

		Expect(stray.n).To(Equal(int64(30)))
		Expect(t.IdledCycles()).To(BeZero())
	})

	It("should reconcile an idled counter on the next advance", func() {
		c.n = 60
		t.Idle(c)

		t.Advance()

		Expect(t.Ticks()).To(Equal(uint64(100)))
		Expect(c.n).To(Equal(int64(100)))
	})

	It("should convert cycles to emulated time", func() {
		t = timing.New(timing.WithClockRate(1000))
		Expect(t.Duration(2500)).To(Equal(2500 * time.Millisecond))
		Expect(timing.New().Duration(timing.DefaultClockRate)).To(Equal(time.Second))
	})
})
