package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/okian/teamcomp/internal/domain/ledger"
	"github.com/okian/teamcomp/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type failingPersister struct {
	fail  bool
	saved []model.LedgerEntry
}

func (p *failingPersister) SaveLedgerEntry(_ context.Context, e model.LedgerEntry) error {
	if p.fail {
		return errors.New("disk full")
	}
	p.saved = append(p.saved, e)
	return nil
}

func (p *failingPersister) DeleteLedgerEntry(_ context.Context, _ int) error {
	if p.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestLedger_Record(t *testing.T) {
	Convey("Given a ledger with one user opened at 1000 points", t, func() {
		ctx := context.Background()
		l := ledger.New()
		_, err := l.Open(ctx, 1, model.RawStats{Points: 1000, Units: 10})
		So(err, ShouldBeNil)

		Convey("When a higher reading arrives", func() {
			e, err := l.Record(ctx, 1, model.RawStats{Points: 3500, Units: 14})
			So(err, ShouldBeNil)

			Convey("Then the delta is the difference from the baseline", func() {
				So(e.Delta(), ShouldResemble, model.RawStats{Points: 2500, Units: 4})
			})
		})

		Convey("When the provider resyncs to a lower reading", func() {
			_, err := l.Record(ctx, 1, model.RawStats{Points: 3500, Units: 14})
			So(err, ShouldBeNil)
			e, err := l.Record(ctx, 1, model.RawStats{Points: 200, Units: 2})
			So(err, ShouldBeNil)

			Convey("Then the reading becomes the new raw value and accrued stats are kept", func() {
				So(e.Raw, ShouldResemble, model.RawStats{Points: 200, Units: 2})
				So(e.Delta(), ShouldResemble, model.RawStats{Points: 2500, Units: 4})
			})

			Convey("And later readings keep accruing from there", func() {
				e, err := l.Record(ctx, 1, model.RawStats{Points: 700, Units: 3})
				So(err, ShouldBeNil)
				So(e.Delta(), ShouldResemble, model.RawStats{Points: 3000, Units: 5})
			})
		})

		Convey("When only one counter regresses", func() {
			_, err := l.Record(ctx, 1, model.RawStats{Points: 2000, Units: 12})
			So(err, ShouldBeNil)
			e, err := l.Record(ctx, 1, model.RawStats{Points: 500, Units: 15})
			So(err, ShouldBeNil)

			Convey("Then the other counter keeps its new progress", func() {
				So(e.Delta(), ShouldResemble, model.RawStats{Points: 1000, Units: 5})
			})
		})

		Convey("When recording for an unknown user", func() {
			_, err := l.Record(ctx, 99, model.RawStats{Points: 1})

			Convey("Then it fails with ErrUnknownUser", func() {
				So(errors.Is(err, ledger.ErrUnknownUser), ShouldBeTrue)
			})
		})
	})
}

func TestLedger_Offsets(t *testing.T) {
	Convey("Given a ledger entry", t, func() {
		ctx := context.Background()
		l := ledger.New()
		_, err := l.Open(ctx, 1, model.RawStats{})
		So(err, ShouldBeNil)

		Convey("When two offsets are applied", func() {
			_, err := l.ApplyOffset(ctx, 1, model.OffsetStats{Points: 100, MultipliedPoints: 200, Units: 1})
			So(err, ShouldBeNil)
			e, err := l.ApplyOffset(ctx, 1, model.OffsetStats{Points: -50, MultipliedPoints: 0, Units: 2})
			So(err, ShouldBeNil)

			Convey("Then they accumulate", func() {
				So(e.Offset, ShouldResemble, model.OffsetStats{Points: 50, MultipliedPoints: 200, Units: 3})
			})

			Convey("And clearing removes them", func() {
				So(l.ClearOffset(ctx, 1), ShouldBeNil)
				e, ok := l.Get(1)
				So(ok, ShouldBeTrue)
				So(e.Offset.IsZero(), ShouldBeTrue)
			})
		})
	})
}

func TestLedger_Rebind(t *testing.T) {
	Convey("Given a user with accrued contribution", t, func() {
		ctx := context.Background()
		l := ledger.New()
		_, _ = l.Open(ctx, 1, model.RawStats{Points: 1000, Units: 10})
		_, _ = l.Record(ctx, 1, model.RawStats{Points: 1600, Units: 13})

		Convey("When the user switches to an identity with a much higher total", func() {
			e, err := l.Rebind(ctx, 1, model.RawStats{Points: 90_000, Units: 400})
			So(err, ShouldBeNil)

			Convey("Then nothing is gained or lost by the switch", func() {
				So(e.Delta(), ShouldResemble, model.RawStats{Points: 600, Units: 3})
			})

			Convey("And later readings of the new identity accrue normally", func() {
				e, _ = l.Record(ctx, 1, model.RawStats{Points: 90_500, Units: 401})
				So(e.Delta(), ShouldResemble, model.RawStats{Points: 1100, Units: 4})
			})
		})
	})
}

func TestLedger_Rebaseline(t *testing.T) {
	Convey("Given a user with accrued points and an offset", t, func() {
		ctx := context.Background()
		l := ledger.New()
		_, _ = l.Open(ctx, 1, model.RawStats{Points: 100})
		_, _ = l.Record(ctx, 1, model.RawStats{Points: 10100, Units: 3})
		_, _ = l.ApplyOffset(ctx, 1, model.OffsetStats{Points: 5})

		Convey("When the user is rebaselined", func() {
			before, err := l.Rebaseline(ctx, 1)
			So(err, ShouldBeNil)

			Convey("Then the captured entry holds the old contribution", func() {
				So(before.Delta().Points, ShouldEqual, 10000)
				So(before.Offset.Points, ShouldEqual, 5)
			})

			Convey("And the live entry starts at zero", func() {
				e, _ := l.Get(1)
				So(e.Delta(), ShouldResemble, model.RawStats{})
				So(e.Offset.IsZero(), ShouldBeTrue)
				So(e.Baseline, ShouldResemble, model.RawStats{Points: 10100, Units: 3})
			})
		})

		Convey("When every user is rebaselined", func() {
			_, _ = l.Open(ctx, 2, model.RawStats{Points: 5})
			_, _ = l.Record(ctx, 2, model.RawStats{Points: 50})
			So(l.RebaselineAll(ctx), ShouldBeNil)

			Convey("Then no user has a contribution left", func() {
				for _, e := range l.Entries() {
					So(e.Delta(), ShouldResemble, model.RawStats{})
					So(e.Offset.IsZero(), ShouldBeTrue)
				}
			})
		})

		Convey("When the user is removed", func() {
			before, err := l.Remove(ctx, 1)
			So(err, ShouldBeNil)
			So(before.Delta().Points, ShouldEqual, 10000)

			_, ok := l.Get(1)
			So(ok, ShouldBeFalse)
			So(l.Len(), ShouldEqual, 0)

			Convey("And restoring the capture brings it back unchanged", func() {
				So(l.Restore(ctx, before), ShouldBeNil)
				e, ok := l.Get(1)
				So(ok, ShouldBeTrue)
				So(e, ShouldResemble, before)
			})
		})
	})
}

func TestLedger_Persistence(t *testing.T) {
	Convey("Given a ledger whose persister fails", t, func() {
		ctx := context.Background()
		p := &failingPersister{}
		l := ledger.New(ledger.WithPersister(p))
		_, err := l.Open(ctx, 1, model.RawStats{Points: 10})
		So(err, ShouldBeNil)
		So(len(p.saved), ShouldEqual, 1)

		p.fail = true

		Convey("When a reading is recorded", func() {
			_, err := l.Record(ctx, 1, model.RawStats{Points: 500})

			Convey("Then the error is reported and the entry is unchanged", func() {
				So(errors.Is(err, ledger.ErrPersist), ShouldBeTrue)
				e, _ := l.Get(1)
				So(e.Raw.Points, ShouldEqual, 10)
			})
		})

		Convey("When all users are rebaselined", func() {
			p.fail = false
			_, _ = l.Record(ctx, 1, model.RawStats{Points: 500})
			p.fail = true
			err := l.RebaselineAll(ctx)

			Convey("Then the failing user keeps its contribution", func() {
				So(errors.Is(err, ledger.ErrPersist), ShouldBeTrue)
				e, _ := l.Get(1)
				So(e.Delta().Points, ShouldEqual, 490)
			})
		})
	})

	Convey("Given stored entries", t, func() {
		l := ledger.New()
		l.Load([]model.LedgerEntry{
			{UserID: 2, Raw: model.RawStats{Points: 20}},
			{UserID: 1, Raw: model.RawStats{Points: 10}},
		})

		Convey("Then they are served in user id order", func() {
			entries := l.Entries()
			So(len(entries), ShouldEqual, 2)
			So(entries[0].UserID, ShouldEqual, 1)
			So(entries[1].UserID, ShouldEqual, 2)
		})
	})
}

func TestLedger_ConcurrentRecordAndRebaseline(t *testing.T) {
	Convey("Given readings racing with rebaselines", t, func() {
		ctx := context.Background()
		l := ledger.New()
		_, _ = l.Open(ctx, 1, model.RawStats{})

		const readings = 2000
		var (
			wg       sync.WaitGroup
			captured int64
		)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := int64(1); i <= readings; i++ {
				_, _ = l.Record(ctx, 1, model.RawStats{Points: i * 10, Units: i})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < readings/10; i++ {
				before, err := l.Rebaseline(ctx, 1)
				if err == nil {
					captured += before.Delta().Points
				}
			}
		}()
		wg.Wait()

		Convey("Then every point is attributed exactly once", func() {
			e, _ := l.Get(1)
			So(captured+e.Delta().Points, ShouldEqual, int64(readings*10))
		})
	})
}
