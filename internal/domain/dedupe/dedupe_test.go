package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/teamcomp/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it is empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording trigger keys", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the key is new", func() {
				seen := d.SeenAndRecord(ctx, "month-end:2026-10")

				Convey("Then it returns false and records the key", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the key was already seen", func() {
				d.SeenAndRecord(ctx, "month-end:2026-10")
				seen := d.SeenAndRecord(ctx, "month-end:2026-10")

				Convey("Then it returns true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And keys of different periods are recorded", func() {
				So(d.SeenAndRecord(ctx, "month-start:2026-10"), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "month-start:2026-11"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 2)
			})
		})

		Convey("When unrecording keys", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the key exists", func() {
				d.SeenAndRecord(ctx, "ingest:2026-10-18T04")
				d.Unrecord(ctx, "ingest:2026-10-18T04")

				Convey("Then it can be recorded again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "ingest:2026-10-18T04"), ShouldBeFalse)
				})
			})

			Convey("And the key is in the middle of the order", func() {
				for _, k := range []string{"a", "b", "c"} {
					d.SeenAndRecord(ctx, k)
				}
				d.Unrecord(ctx, "b")

				Convey("Then the neighbours are kept", func() {
					So(d.Size(), ShouldEqual, 2)
					So(d.SeenAndRecord(ctx, "a"), ShouldBeTrue)
					So(d.SeenAndRecord(ctx, "c"), ShouldBeTrue)
				})
			})

			Convey("And the key does not exist", func() {
				d.Unrecord(ctx, "nonexistent")
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the bounded deduper is at capacity", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for _, k := range []string{"k1", "k2", "k3"} {
				So(d.SeenAndRecord(ctx, k), ShouldBeFalse)
			}
			seen := d.SeenAndRecord(ctx, "k4")

			Convey("Then the oldest key is evicted", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "k4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "k3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "k2"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
			})
		})

		Convey("When using unbounded mode", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			const n = 500
			for i := 0; i < n; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("key-%d", i)), ShouldBeFalse)
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, int64(n))
				So(d.SeenAndRecord(ctx, "key-0"), ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given many goroutines racing on the same key", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var (
			wg    sync.WaitGroup
			first atomic.Int32
		)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(context.Background(), "month-end:2026-10") {
					first.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one of them records it", func() {
			So(first.Load(), ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}
