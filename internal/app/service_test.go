package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/teamcomp/internal/adapters/client/stats"
	"github.com/okian/teamcomp/internal/adapters/repository"
	service "github.com/okian/teamcomp/internal/app"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/scoring"
	"github.com/okian/teamcomp/internal/domain/state"
	"github.com/okian/teamcomp/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeStats struct {
	mu       sync.Mutex
	readings map[string]model.RawStats
	errs     map[string]error
	block    map[string]chan struct{}
	deaf     map[string]bool
	entered  chan string
}

func newFakeStats() *fakeStats {
	return &fakeStats{
		readings: make(map[string]model.RawStats),
		errs:     make(map[string]error),
		block:    make(map[string]chan struct{}),
		deaf:     make(map[string]bool),
		entered:  make(chan string, 16),
	}
}

func (f *fakeStats) Fetch(ctx context.Context, identity, _ string) (model.RawStats, error) {
	f.mu.Lock()
	raw, err, wait, deaf := f.readings[identity], f.errs[identity], f.block[identity], f.deaf[identity]
	f.mu.Unlock()

	if wait != nil && deaf {
		f.entered <- identity
		<-wait
	} else if wait != nil {
		f.entered <- identity
		select {
		case <-wait:
		case <-ctx.Done():
			return model.RawStats{}, ctx.Err()
		}
	}
	if err != nil {
		return model.RawStats{}, err
	}
	return raw, nil
}

func (f *fakeStats) set(identity string, points, units int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings[identity] = model.RawStats{Points: points, Units: units}
}

func (f *fakeStats) fail(identity string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[identity] = err
}

func (f *fakeStats) hold(identity string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block[identity] = ch
	return ch
}

// stall holds fetches of identity until the returned channel is closed,
// ignoring cancellation.
func (f *fakeStats) stall(identity string) chan struct{} {
	ch := f.hold(identity)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deaf[identity] = true
	return ch
}

type fakePricing struct {
	entries []scoring.PricingEntry
	err     error
}

func (f *fakePricing) Fetch(context.Context) ([]scoring.PricingEntry, error) {
	return f.entries, f.err
}

// fixture is a started service with two teams and one hardware of each kind.
type fixture struct {
	ctx     context.Context
	svc     *service.Service
	store   *repository.MemoryStore
	stats   *fakeStats
	pricing *fakePricing
	now     time.Time

	alpha, beta      model.Team
	nvidia, amd, cpu model.Hardware
}

func newFixture(opts ...service.Option) *fixture {
	f := &fixture{
		ctx:     context.Background(),
		store:   repository.NewMemoryStore(),
		stats:   newFakeStats(),
		pricing: &fakePricing{},
		now:     time.Date(2026, time.September, 30, 23, 30, 0, 0, time.UTC),
	}
	base := []service.Option{
		service.WithStore(f.store),
		service.WithStatsFetcher(f.stats),
		service.WithPricingFetcher(f.pricing),
		service.WithWorkerCount(4),
		service.WithFetchTimeout(time.Second),
		service.WithClock(func() time.Time { return f.now }),
	}
	f.svc = service.New(append(base, opts...)...)
	So(f.svc.Start(f.ctx), ShouldBeNil)

	var err error
	f.alpha, err = f.svc.CreateTeam(f.ctx, model.Team{Name: "alpha"})
	So(err, ShouldBeNil)
	f.beta, err = f.svc.CreateTeam(f.ctx, model.Team{Name: "beta"})
	So(err, ShouldBeNil)
	f.nvidia, err = f.svc.CreateHardware(f.ctx, model.Hardware{Name: "rtx4090", Make: model.MakeNvidia, Type: model.TypeGPU, Multiplier: 1})
	So(err, ShouldBeNil)
	f.amd, err = f.svc.CreateHardware(f.ctx, model.Hardware{Name: "rx7900", Make: model.MakeAMD, Type: model.TypeGPU, Multiplier: 2})
	So(err, ShouldBeNil)
	f.cpu, err = f.svc.CreateHardware(f.ctx, model.Hardware{Name: "epyc", Make: model.MakeAMD, Type: model.TypeCPU, Multiplier: 1})
	So(err, ShouldBeNil)
	return f
}

func (f *fixture) user(name string, cat model.Category, team model.Team, hw model.Hardware) model.User {
	u, err := f.svc.CreateUser(f.ctx, model.User{
		FoldingUserName: name,
		Passkey:         "pk-" + name,
		Category:        cat,
		TeamID:          team.ID,
		HardwareID:      hw.ID,
	})
	So(err, ShouldBeNil)
	return u
}

func (f *fixture) ingest() service.IngestReport {
	report, err := f.svc.ManualUpdate(f.ctx)
	So(err, ShouldBeNil)
	return report
}

func (f *fixture) team(id int) model.TeamSummary {
	t, err := f.svc.TeamSummary(f.ctx, id)
	So(err, ShouldBeNil)
	return t
}

func TestService_Attribution(t *testing.T) {
	Convey("Given a user on hardware with a 2.00 multiplier", t, func() {
		f := newFixture()
		defer f.svc.Stop()
		f.stats.set("ana", 5_000, 40)
		ana := f.user("ana", model.CategoryAMDGPU, f.alpha, f.amd)

		Convey("When 20000 points and 7 units accrue", func() {
			f.stats.set("ana", 25_000, 47)
			report := f.ingest()
			So(report.Succeeded, ShouldEqual, 1)

			Convey("Then points are multiplied and units are not", func() {
				u, err := f.svc.UserSummary(f.ctx, ana.ID)
				So(err, ShouldBeNil)
				So(u.Points, ShouldEqual, 20_000)
				So(u.MultipliedPoints, ShouldEqual, 40_000)
				So(u.Units, ShouldEqual, 7)
				So(u.Rank, ShouldEqual, 1)
			})

			Convey("Then summarizing twice gives the same answer", func() {
				first, _ := f.svc.CompetitionSummary(f.ctx)
				second, _ := f.svc.CompetitionSummary(f.ctx)
				So(second, ShouldResemble, first)
				So(first.MultipliedPoints, ShouldEqual, 40_000)
			})
		})

		Convey("When a large negative offset is applied", func() {
			f.stats.set("ana", 7_500, 41)
			f.ingest()
			_, err := f.svc.ApplyOffset(f.ctx, ana.ID, model.OffsetStats{Points: -20_000, MultipliedPoints: -20_000})
			So(err, ShouldBeNil)

			Convey("Then the visible values are floored at zero", func() {
				u, _ := f.svc.UserSummary(f.ctx, ana.ID)
				So(u.Points, ShouldEqual, 0)
				So(u.MultipliedPoints, ShouldEqual, 0)
				So(u.Units, ShouldEqual, 1)
			})
		})

		Convey("When an offset without multiplied points is applied", func() {
			e, err := f.svc.ApplyOffset(f.ctx, ana.ID, model.OffsetStats{Points: 150})
			So(err, ShouldBeNil)

			Convey("Then the multiplied offset is derived from the hardware", func() {
				So(e.Offset.MultipliedPoints, ShouldEqual, 300)
				u, _ := f.svc.UserSummary(f.ctx, ana.ID)
				So(u.MultipliedPoints, ShouldEqual, 300)
			})
		})
	})
}

func TestService_Retirement(t *testing.T) {
	Convey("Given a user who earned 10000 points in team alpha", t, func() {
		f := newFixture()
		defer f.svc.Stop()
		f.stats.set("bo", 1_000, 10)
		bo := f.user("bo", model.CategoryNvidiaGPU, f.alpha, f.nvidia)
		f.stats.set("bo", 11_000, 14)
		f.ingest()

		Convey("When the user moves to team beta and earns 14000 more", func() {
			bo.TeamID = f.beta.ID
			So(f.svc.UpdateUser(f.ctx, bo), ShouldBeNil)
			f.stats.set("bo", 25_000, 20)
			f.ingest()

			Convey("Then alpha keeps the 10000 and beta has the 14000", func() {
				alpha := f.team(f.alpha.ID)
				So(alpha.MultipliedPoints, ShouldEqual, 10_000)
				So(len(alpha.ActiveUsers), ShouldEqual, 0)
				So(len(alpha.RetiredUsers), ShouldEqual, 1)
				So(alpha.RetiredUsers[0].Units, ShouldEqual, 4)

				beta := f.team(f.beta.ID)
				So(beta.MultipliedPoints, ShouldEqual, 14_000)
				So(beta.ActiveUsers[0].Units, ShouldEqual, 6)
			})

			Convey("Then nothing is double counted", func() {
				sum, _ := f.svc.CompetitionSummary(f.ctx)
				So(sum.Points, ShouldEqual, 24_000)
				So(sum.Units, ShouldEqual, 10)
				So(sum.Teams[0].TeamID, ShouldEqual, f.beta.ID)
				So(sum.Teams[0].Rank, ShouldEqual, 1)
				So(sum.Teams[1].Rank, ShouldEqual, 2)
			})
		})

		Convey("When the user is deleted", func() {
			So(f.svc.DeleteUser(f.ctx, bo.ID), ShouldBeNil)

			Convey("Then the team keeps the credit", func() {
				alpha := f.team(f.alpha.ID)
				So(alpha.MultipliedPoints, ShouldEqual, 10_000)
				So(len(alpha.ActiveUsers), ShouldEqual, 0)
				_, err := f.svc.UserSummary(f.ctx, bo.ID)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the user is deleted, re-added to the same team and earns 14000 more", func() {
			So(f.svc.DeleteUser(f.ctx, bo.ID), ShouldBeNil)
			again := f.user("bo", model.CategoryNvidiaGPU, f.alpha, f.nvidia)
			f.stats.set("bo", 25_000, 20)
			f.ingest()

			Convey("Then the team holds 10000 retired plus 14000 active", func() {
				alpha := f.team(f.alpha.ID)
				So(alpha.MultipliedPoints, ShouldEqual, 24_000)
				So(len(alpha.RetiredUsers), ShouldEqual, 1)
				So(alpha.RetiredUsers[0].MultipliedPoints, ShouldEqual, 10_000)
				So(len(alpha.ActiveUsers), ShouldEqual, 1)
				So(alpha.ActiveUsers[0].UserID, ShouldEqual, again.ID)
				So(alpha.ActiveUsers[0].MultipliedPoints, ShouldEqual, 14_000)
			})
		})

		Convey("When the user changes category on the same hardware", func() {
			bo.Category = model.CategoryWildcard
			So(f.svc.UpdateUser(f.ctx, bo), ShouldBeNil)
			f.stats.set("bo", 25_000, 20)
			f.ingest()

			Convey("Then the old category's contribution is retired", func() {
				alpha := f.team(f.alpha.ID)
				So(len(alpha.RetiredUsers), ShouldEqual, 1)
				So(alpha.RetiredUsers[0].Category, ShouldEqual, model.CategoryNvidiaGPU)
				So(alpha.RetiredUsers[0].MultipliedPoints, ShouldEqual, 10_000)
				So(alpha.ActiveUsers[0].MultipliedPoints, ShouldEqual, 14_000)
				So(alpha.MultipliedPoints, ShouldEqual, 24_000)
			})
		})

		Convey("When the user switches to hardware with a different multiplier", func() {
			faster, err := f.svc.CreateHardware(f.ctx, model.Hardware{Name: "rtx5090", Make: model.MakeNvidia, Type: model.TypeGPU, Multiplier: 2})
			So(err, ShouldBeNil)
			bo.HardwareID = faster.ID
			So(f.svc.UpdateUser(f.ctx, bo), ShouldBeNil)
			f.stats.set("bo", 25_000, 20)
			f.ingest()

			Convey("Then the old multiplier's contribution is retired", func() {
				alpha := f.team(f.alpha.ID)
				So(len(alpha.RetiredUsers), ShouldEqual, 1)
				So(alpha.RetiredUsers[0].MultipliedPoints, ShouldEqual, 10_000)
				So(alpha.ActiveUsers[0].Points, ShouldEqual, 14_000)
				So(alpha.ActiveUsers[0].MultipliedPoints, ShouldEqual, 28_000)
				So(alpha.MultipliedPoints, ShouldEqual, 38_000)
			})
		})

		Convey("When the user switches to hardware with the same multiplier", func() {
			twin, err := f.svc.CreateHardware(f.ctx, model.Hardware{Name: "rtx4080", Make: model.MakeNvidia, Type: model.TypeGPU, Multiplier: 1})
			So(err, ShouldBeNil)
			bo.HardwareID = twin.ID
			So(f.svc.UpdateUser(f.ctx, bo), ShouldBeNil)

			Convey("Then the current period continues", func() {
				alpha := f.team(f.alpha.ID)
				So(len(alpha.RetiredUsers), ShouldEqual, 0)
				So(alpha.ActiveUsers[0].MultipliedPoints, ShouldEqual, 10_000)
			})
		})

		Convey("When the user only changes display name", func() {
			bo.DisplayName = "Bo the Great"
			So(f.svc.UpdateUser(f.ctx, bo), ShouldBeNil)

			Convey("Then no retirement is written", func() {
				alpha := f.team(f.alpha.ID)
				So(len(alpha.RetiredUsers), ShouldEqual, 0)
				So(alpha.ActiveUsers[0].DisplayName, ShouldEqual, "Bo the Great")
				So(alpha.MultipliedPoints, ShouldEqual, 10_000)
			})
		})

		Convey("When the user switches to a new identity", func() {
			f.stats.set("bo-new", 900_000, 5_000)
			bo.FoldingUserName = "bo-new"
			So(f.svc.UpdateUser(f.ctx, bo), ShouldBeNil)
			f.stats.set("bo-new", 901_000, 5_001)
			f.ingest()

			Convey("Then the old contribution is kept and only new work is added", func() {
				alpha := f.team(f.alpha.ID)
				So(alpha.MultipliedPoints, ShouldEqual, 11_000)
				So(alpha.Units, ShouldEqual, 5)
			})
		})
	})
}

// flakyDeletes is a memory store whose user deletes can be made to fail.
type flakyDeletes struct {
	*repository.MemoryStore
	err error
}

func (s *flakyDeletes) DeleteUser(ctx context.Context, id int) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.DeleteUser(ctx, id)
}

func TestService_DeleteUserWithoutLedgerEntry(t *testing.T) {
	Convey("Given a stored user the ledger does not track", t, func() {
		store := &flakyDeletes{MemoryStore: repository.NewMemoryStore()}
		f := newFixture(service.WithStore(store))
		defer f.svc.Stop()
		ghost, err := store.CreateUser(f.ctx, model.User{
			FoldingUserName: "ghost", Category: model.CategoryNvidiaGPU, TeamID: f.alpha.ID, HardwareID: f.nvidia.ID,
		})
		So(err, ShouldBeNil)

		Convey("When deleting it fails in the store", func() {
			store.err = errors.New("database is locked")
			So(f.svc.DeleteUser(f.ctx, ghost.ID), ShouldNotBeNil)
			store.err = nil

			Convey("Then no zero-based entry is opened for it", func() {
				entries, err := store.ListLedgerEntries(f.ctx)
				So(err, ShouldBeNil)
				for _, e := range entries {
					So(e.UserID, ShouldNotEqual, ghost.ID)
				}

				f.stats.set("ghost", 900_000, 5_000)
				report := f.ingest()
				So(report.Succeeded, ShouldEqual, 0)
				u, err := f.svc.UserSummary(f.ctx, ghost.ID)
				So(err, ShouldBeNil)
				So(u.Points, ShouldEqual, 0)
			})
		})
	})
}

func TestService_UserValidation(t *testing.T) {
	Convey("Given a team with an NVIDIA captain", t, func() {
		f := newFixture()
		defer f.svc.Stop()
		f.stats.set("cy", 10, 1)
		f.stats.set("di", 10, 1)
		f.stats.set("ed", 10, 1)
		cy, err := f.svc.CreateUser(f.ctx, model.User{
			FoldingUserName: "cy", Category: model.CategoryNvidiaGPU, IsCaptain: true,
			TeamID: f.alpha.ID, HardwareID: f.nvidia.ID,
		})
		So(err, ShouldBeNil)

		Convey("Then a second NVIDIA user does not fit", func() {
			_, err := f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "di", Category: model.CategoryNvidiaGPU, TeamID: f.alpha.ID, HardwareID: f.nvidia.ID,
			})
			So(errors.Is(err, service.ErrCategoryFull), ShouldBeTrue)
		})

		Convey("Then an AMD category user cannot run NVIDIA hardware", func() {
			_, err := f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "di", Category: model.CategoryAMDGPU, TeamID: f.alpha.ID, HardwareID: f.nvidia.ID,
			})
			So(errors.Is(err, service.ErrIncompatibleCategory), ShouldBeTrue)
		})

		Convey("Then a second captain is refused", func() {
			_, err := f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "di", Category: model.CategoryWildcard, IsCaptain: true, TeamID: f.alpha.ID, HardwareID: f.cpu.ID,
			})
			So(errors.Is(err, service.ErrCaptainTaken), ShouldBeTrue)
		})

		Convey("Then a wildcard on a CPU fits and the team fills up", func() {
			_, err := f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "di", Category: model.CategoryWildcard, TeamID: f.alpha.ID, HardwareID: f.cpu.ID,
			})
			So(err, ShouldBeNil)
			_, err = f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "ed", Category: model.CategoryAMDGPU, TeamID: f.alpha.ID, HardwareID: f.amd.ID,
			})
			So(err, ShouldBeNil)

			team := f.team(f.alpha.ID)
			So(len(team.ActiveUsers), ShouldEqual, model.MaxTeamSize())
			So(team.CaptainName, ShouldEqual, "cy")
		})

		Convey("Then an unknown team is not found", func() {
			_, err := f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "di", Category: model.CategoryWildcard, TeamID: 999, HardwareID: f.cpu.ID,
			})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Then the team cannot be deleted while it has users", func() {
			So(errors.Is(f.svc.DeleteTeam(f.ctx, f.alpha.ID), service.ErrInUse), ShouldBeTrue)
			So(errors.Is(f.svc.DeleteHardware(f.ctx, cy.HardwareID), service.ErrInUse), ShouldBeTrue)
		})

		Convey("Then an identity without work units is rejected", func() {
			f.stats.fail("idle", stats.ErrNoWorkUnits)
			_, err := f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "idle", Category: model.CategoryWildcard, TeamID: f.beta.ID, HardwareID: f.cpu.ID,
			})
			So(errors.Is(err, stats.ErrNoWorkUnits), ShouldBeTrue)
			So(errors.Is(err, service.ErrRetrieval), ShouldBeFalse)
		})

		Convey("Then an unreachable stats source is a retrieval error", func() {
			f.stats.fail("far", stats.ErrConnection)
			_, err := f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "far", Category: model.CategoryWildcard, TeamID: f.beta.ID, HardwareID: f.cpu.ID,
			})
			So(errors.Is(err, service.ErrRetrieval), ShouldBeTrue)
			So(errors.Is(err, stats.ErrConnection), ShouldBeTrue)
		})
	})

	Convey("Given work unit validation is off", t, func() {
		f := newFixture(service.WithWorkUnitValidation(false))
		defer f.svc.Stop()
		f.stats.fail("idle", stats.ErrNoWorkUnits)

		Convey("Then an identity without work units starts from zero", func() {
			_, err := f.svc.CreateUser(f.ctx, model.User{
				FoldingUserName: "idle", Category: model.CategoryWildcard, TeamID: f.beta.ID, HardwareID: f.cpu.ID,
			})
			So(err, ShouldBeNil)
		})
	})
}

func TestService_Ingestion(t *testing.T) {
	Convey("Given two users, one of them unreachable", t, func() {
		f := newFixture()
		defer f.svc.Stop()
		f.stats.set("ok", 100, 1)
		f.stats.set("down", 100, 1)
		good := f.user("ok", model.CategoryNvidiaGPU, f.alpha, f.nvidia)
		bad := f.user("down", model.CategoryNvidiaGPU, f.beta, f.nvidia)
		f.stats.set("ok", 600, 2)
		f.stats.set("down", 900, 5)
		f.stats.fail("down", stats.ErrConnection)

		Convey("When ingesting", func() {
			report := f.ingest()

			Convey("Then the failure is isolated and reported", func() {
				So(report.Users, ShouldEqual, 2)
				So(report.Succeeded, ShouldEqual, 1)
				So(len(report.Failures), ShouldEqual, 1)
				So(report.Failures[0].UserID, ShouldEqual, bad.ID)
				So(errors.Is(report.Err(), stats.ErrConnection), ShouldBeTrue)

				u, _ := f.svc.UserSummary(f.ctx, good.ID)
				So(u.Points, ShouldEqual, 500)
				u, _ = f.svc.UserSummary(f.ctx, bad.ID)
				So(u.Points, ShouldEqual, 0)
			})
		})

		Convey("When parsing is disabled", func() {
			So(f.svc.SetParsing(f.ctx, state.ParsingDisabled), ShouldBeNil)
			_, err := f.svc.HourlyIngest(f.ctx)

			Convey("Then scheduled ingestion does not run", func() {
				So(errors.Is(err, service.ErrIngestionDisabled), ShouldBeTrue)
			})
		})

		Convey("When a write arrives while ingestion holds the gate", func() {
			release := f.stats.hold("ok")
			done := make(chan error, 1)
			go func() {
				_, err := f.svc.HourlyIngest(f.ctx)
				done <- err
			}()
			<-f.stats.entered

			resetErr := f.svc.MonthStart(f.ctx)
			_, offsetErr := f.svc.ApplyOffset(f.ctx, good.ID, model.OffsetStats{Points: 1})
			during := f.svc.SystemState()
			close(release)
			So(<-done, ShouldBeNil)

			Convey("Then the write is refused with a state conflict", func() {
				So(during, ShouldEqual, state.UpdatingStats)
				So(isConflict(resetErr), ShouldBeTrue)
				So(isConflict(offsetErr), ShouldBeTrue)
				So(f.svc.SystemState(), ShouldEqual, state.Available)
			})
		})
	})
}

func TestService_InterruptedIngestion(t *testing.T) {
	Convey("Given a user whose fetch is in flight when the caller gives up", t, func() {
		f := newFixture()
		defer f.svc.Stop()
		f.stats.set("ana", 1_000, 10)
		ana := f.user("ana", model.CategoryNvidiaGPU, f.alpha, f.nvidia)
		f.stats.set("ana", 5_000, 14)
		release := f.stats.stall("ana")

		ctx, cancel := context.WithCancel(f.ctx)
		done := make(chan error, 1)
		go func() {
			_, err := f.svc.ManualUpdate(ctx)
			done <- err
		}()
		<-f.stats.entered
		cancel()

		busyErr := f.svc.MonthStart(f.ctx)
		during := f.svc.SystemState()
		close(release)
		ingestErr := <-done
		resetErr := f.svc.MonthStart(f.ctx)

		Convey("Then the gate stays held until the fetch returns", func() {
			So(isConflict(busyErr), ShouldBeTrue)
			So(during, ShouldEqual, state.UpdatingStats)
			So(errors.Is(ingestErr, context.Canceled), ShouldBeTrue)
		})

		Convey("Then the late reading is not credited to the new month", func() {
			So(resetErr, ShouldBeNil)
			u, err := f.svc.UserSummary(f.ctx, ana.ID)
			So(err, ShouldBeNil)
			So(u.Points, ShouldEqual, 0)
			So(u.Units, ShouldEqual, 0)
			So(f.svc.SystemState(), ShouldEqual, state.Available)
		})
	})
}

func isConflict(err error) bool {
	return errors.Is(err, state.ErrStateConflict)
}

func TestService_MonthEnd(t *testing.T) {
	Convey("Given a month with activity, a retirement and an offset", t, func() {
		f := newFixture()
		defer f.svc.Stop()
		f.stats.set("ana", 0, 0)
		f.stats.set("bo", 0, 0)
		ana := f.user("ana", model.CategoryAMDGPU, f.alpha, f.amd)
		bo := f.user("bo", model.CategoryNvidiaGPU, f.beta, f.nvidia)
		f.stats.set("ana", 3_000, 3)
		f.stats.set("bo", 10_000, 9)
		f.ingest()
		_, err := f.svc.ApplyOffset(f.ctx, ana.ID, model.OffsetStats{Points: 10})
		So(err, ShouldBeNil)
		So(f.svc.DeleteUser(f.ctx, bo.ID), ShouldBeNil)

		f.pricing.entries = []scoring.PricingEntry{
			{Name: "rx7900", Make: model.MakeAMD, Type: model.TypeGPU, AveragePPD: 2_000_000},
			{Name: "rtx4090", Make: model.MakeNvidia, Type: model.TypeGPU, AveragePPD: 8_000_000},
		}

		Convey("When the month ends", func() {
			report := f.svc.MonthEnd(f.ctx, f.now)
			So(report.Err(), ShouldBeNil)
			So(len(report.Steps), ShouldEqual, 4)

			Convey("Then the result of the month is saved", func() {
				res, err := f.svc.MonthlyResult(f.ctx, 2026, time.September)
				So(err, ShouldBeNil)
				So(res.Teams[0].TeamID, ShouldEqual, f.beta.ID)
				So(res.Teams[0].MultipliedPoints, ShouldEqual, 10_000)
				So(res.Teams[1].MultipliedPoints, ShouldEqual, 6_020)
				So(res.Categories[model.CategoryAMDGPU][0].UserID, ShouldEqual, ana.ID)
			})

			Convey("Then the live competition starts from zero", func() {
				sum, _ := f.svc.CompetitionSummary(f.ctx)
				So(sum.Points, ShouldEqual, 0)
				So(sum.MultipliedPoints, ShouldEqual, 0)
				retired, _ := f.svc.RetiredUsers(f.ctx)
				So(len(retired), ShouldEqual, 0)
				So(f.svc.Parsing(), ShouldEqual, state.ParsingEnabled)
			})

			Convey("Then multipliers are repriced against the best of each type", func() {
				amd, _ := f.svc.Hardware(f.ctx, f.amd.ID)
				nv, _ := f.svc.Hardware(f.ctx, f.nvidia.ID)
				So(amd.Multiplier, ShouldEqual, 4.0)
				So(nv.Multiplier, ShouldEqual, 1.0)
			})

			Convey("Then saving the same month again supersedes it", func() {
				f.stats.set("ana", 4_000, 4)
				f.ingest()
				f.now = f.now.Add(10 * time.Minute)
				_, err := f.svc.SaveMonthlyResult(f.ctx, 2026, time.September)
				So(err, ShouldBeNil)

				res, _ := f.svc.MonthlyResult(f.ctx, 2026, time.September)
				So(len(res.Teams), ShouldEqual, 2)
				So(res.Teams[0].TeamID, ShouldEqual, f.alpha.ID)
				So(res.Teams[0].MultipliedPoints, ShouldEqual, 4_000)
				all, _ := f.svc.MonthlyResults(f.ctx)
				So(len(all), ShouldEqual, 1)
			})
		})

		Convey("When the pricing source is down", func() {
			f.pricing.err = errors.New("503")
			report := f.svc.MonthEnd(f.ctx, f.now)

			Convey("Then the other steps still run", func() {
				So(errors.Is(report.Err(), service.ErrRetrieval), ShouldBeTrue)
				_, err := f.svc.MonthlyResult(f.ctx, 2026, time.September)
				So(err, ShouldBeNil)
				sum, _ := f.svc.CompetitionSummary(f.ctx)
				So(sum.Points, ShouldEqual, 0)
			})
		})

		Convey("When only some steps are enabled", func() {
			g := newFixture(service.WithMonthEndSteps(service.MonthEndSteps{Result: true}))
			defer g.svc.Stop()
			report := g.svc.MonthEnd(g.ctx, g.now)

			So(report.Steps[0].Skipped, ShouldBeFalse)
			So(report.Steps[1].Skipped, ShouldBeTrue)
			So(report.Steps[3].Skipped, ShouldBeTrue)
		})
	})
}

func TestService_Reprice(t *testing.T) {
	Convey("Given users with offsets on two GPUs", t, func() {
		f := newFixture()
		defer f.svc.Stop()
		ana := f.user("ana", model.CategoryAMDGPU, f.alpha, f.amd)
		bo := f.user("bo", model.CategoryNvidiaGPU, f.alpha, f.nvidia)
		_, _ = f.svc.ApplyOffset(f.ctx, ana.ID, model.OffsetStats{Points: 5, MultipliedPoints: 5})
		_, _ = f.svc.ApplyOffset(f.ctx, bo.ID, model.OffsetStats{Points: 7, MultipliedPoints: 7})

		Convey("When only the AMD multiplier changes", func() {
			f.pricing.entries = []scoring.PricingEntry{
				{Name: "rx7900", Make: model.MakeAMD, Type: model.TypeGPU, AveragePPD: 1_000_000},
				{Name: "rtx4090", Make: model.MakeNvidia, Type: model.TypeGPU, AveragePPD: 1_000_000},
				{Name: "arc", DisplayName: "Arc A770", Make: model.MakeIntel, Type: model.TypeGPU, AveragePPD: 500_000},
				{Name: "ghost", Make: model.MakeIntel, Type: model.TypeGPU},
			}
			hw, err := f.svc.Reprice(f.ctx)
			So(err, ShouldBeNil)

			Convey("Then new hardware is added and unusable entries ignored", func() {
				So(len(hw), ShouldEqual, 4)
				list, _ := f.svc.HardwareList(f.ctx)
				So(len(list), ShouldEqual, 4)
				So(list[3].DisplayName, ShouldEqual, "Arc A770")
				So(list[3].Multiplier, ShouldEqual, 2.0)
			})

			Convey("Then only users on changed hardware lose their offsets", func() {
				a, _ := f.svc.UserSummary(f.ctx, ana.ID)
				b, _ := f.svc.UserSummary(f.ctx, bo.ID)
				So(a.Points, ShouldEqual, 0)
				So(b.Points, ShouldEqual, 7)
			})
		})
	})
}

func TestService_Changes(t *testing.T) {
	Convey("Given a user in team alpha", t, func() {
		f := newFixture()
		defer f.svc.Stop()
		f.stats.set("ana", 0, 0)
		ana := f.user("ana", model.CategoryAMDGPU, f.alpha, f.amd)
		f.stats.set("ana", 1_000, 2)
		f.ingest()

		move := model.ValuesOf(ana)
		move.TeamID = f.beta.ID

		Convey("When a move to beta is requested", func() {
			c, err := f.svc.RequestChange(f.ctx, ana.ID, move)
			So(err, ShouldBeNil)
			So(c.State, ShouldEqual, model.ChangeRequested)
			So(c.Previous.TeamID, ShouldEqual, f.alpha.ID)

			Convey("Then an identical request is a duplicate", func() {
				_, err := f.svc.RequestChange(f.ctx, ana.ID, move)
				So(errors.Is(err, service.ErrDuplicateChange), ShouldBeTrue)
			})

			Convey("Then approving now moves the user and retires its points", func() {
				got, err := f.svc.ApproveNow(f.ctx, c.ID)
				So(err, ShouldBeNil)
				So(got.State, ShouldEqual, model.ChangeApprovedNow)
				So(got.AppliedAt.IsZero(), ShouldBeFalse)

				u, _ := f.svc.User(f.ctx, ana.ID)
				So(u.TeamID, ShouldEqual, f.beta.ID)
				So(f.team(f.alpha.ID).MultipliedPoints, ShouldEqual, 2_000)
				So(f.team(f.beta.ID).MultipliedPoints, ShouldEqual, 0)
			})

			Convey("Then a terminal change cannot transition again", func() {
				_, err := f.svc.Reject(f.ctx, c.ID)
				So(err, ShouldBeNil)
				_, err = f.svc.ApproveNow(f.ctx, c.ID)
				So(errors.Is(err, service.ErrInvalidState), ShouldBeTrue)
				_, err = f.svc.ApproveNextMonth(f.ctx, c.ID)
				So(errors.Is(err, service.ErrInvalidState), ShouldBeTrue)

				u, _ := f.svc.User(f.ctx, ana.ID)
				So(u.TeamID, ShouldEqual, f.alpha.ID)
			})

			Convey("Then a next-month approval waits for the month end", func() {
				_, err := f.svc.ApproveNextMonth(f.ctx, c.ID)
				So(err, ShouldBeNil)
				u, _ := f.svc.User(f.ctx, ana.ID)
				So(u.TeamID, ShouldEqual, f.alpha.ID)

				report := f.svc.MonthEnd(f.ctx, f.now)
				So(report.Err(), ShouldBeNil)

				u, _ = f.svc.User(f.ctx, ana.ID)
				So(u.TeamID, ShouldEqual, f.beta.ID)
				applied, _ := f.svc.UserChange(f.ctx, c.ID)
				So(applied.Pending(), ShouldBeFalse)
				So(applied.State, ShouldEqual, model.ChangeApprovedNextMonth)

				n, err := f.svc.ApplyPendingChanges(f.ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When two deferred changes for the user are approved", func() {
			toBeta, _ := f.svc.RequestChange(f.ctx, ana.ID, move)
			toCPU := model.ValuesOf(ana)
			toCPU.HardwareID = f.cpu.ID
			_, err := f.svc.RequestChange(f.ctx, ana.ID, toCPU)
			So(errors.Is(err, service.ErrIncompatibleCategory), ShouldBeTrue)

			stay := model.ValuesOf(ana)
			stay.LiveStatsLink = "https://stats.example/ana"
			link, err := f.svc.RequestChange(f.ctx, ana.ID, stay)
			So(err, ShouldBeNil)

			_, _ = f.svc.ApproveNextMonth(f.ctx, toBeta.ID)
			f.now = f.now.Add(time.Minute)
			_, _ = f.svc.ApproveNextMonth(f.ctx, link.ID)

			n, err := f.svc.ApplyPendingChanges(f.ctx)

			Convey("Then the later approval wins", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				u, _ := f.svc.User(f.ctx, ana.ID)
				So(u.LiveStatsLink, ShouldEqual, "https://stats.example/ana")
				So(u.TeamID, ShouldEqual, f.alpha.ID)
			})
		})

		Convey("When the request asks for nothing new", func() {
			_, err := f.svc.RequestChange(f.ctx, ana.ID, model.ValuesOf(ana))
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestService_Restart(t *testing.T) {
	Convey("Given a service that recorded stats and stopped", t, func() {
		f := newFixture()
		f.stats.set("ana", 100, 1)
		ana := f.user("ana", model.CategoryAMDGPU, f.alpha, f.amd)
		f.stats.set("ana", 600, 3)
		f.ingest()
		f.svc.Stop()

		Convey("When a new service starts on the same store", func() {
			svc := service.New(service.WithStore(f.store))
			So(svc.Start(f.ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("Then the ledger is restored", func() {
				u, err := svc.UserSummary(f.ctx, ana.ID)
				So(err, ShouldBeNil)
				So(u.MultipliedPoints, ShouldEqual, 1_000)
				So(svc.GetStats()["ledgerUsers"], ShouldEqual, 1)
			})
		})
	})
}
