package experiment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/javimosch/superbackend-sub004/internal/adapters/repository"
	"github.com/javimosch/superbackend-sub004/internal/domain/model"
	"github.com/javimosch/superbackend-sub004/internal/experiment"
)

func TestGetOrCreateAssignment(t *testing.T) {
	convey.Convey("Given a running experiment", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		eng := newEngine(store)

		exp := conversionExperiment("exp-1", "", "checkout-cta")
		convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

		convey.Convey("When requesting an assignment twice for the same subject", func() {
			first, err := eng.GetOrCreateAssignment(ctx, "", "checkout-cta", "user-1", map[string]any{"device": "mobile"})
			convey.So(err, convey.ShouldBeNil)

			second, err := eng.GetOrCreateAssignment(ctx, "", "checkout-cta", "user-1", nil)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then both calls return the same sticky variant", func() {
				convey.So(second.VariantKey, convey.ShouldEqual, first.VariantKey)
				convey.So(second.ID, convey.ShouldEqual, first.ID)
				convey.So(exp.HasVariant(first.VariantKey), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the subject id is empty", func() {
			_, err := eng.GetOrCreateAssignment(ctx, "", "checkout-cta", "", nil)
			convey.So(errors.Is(err, experiment.ErrValidation), convey.ShouldBeTrue)
		})

		convey.Convey("When the experiment code is unknown", func() {
			_, err := eng.GetOrCreateAssignment(ctx, "", "ghost", "user-1", nil)
			convey.So(errors.Is(err, experiment.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("When the experiment is paused", func() {
			exp.Status = model.StatusPaused
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			convey.Convey("Then new assignments are refused", func() {
				_, err := eng.GetOrCreateAssignment(ctx, "", "checkout-cta", "user-2", nil)
				convey.So(errors.Is(err, experiment.ErrConflict), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a subject was assigned before the experiment paused", func() {
			a, err := eng.GetOrCreateAssignment(ctx, "", "checkout-cta", "user-3", nil)
			convey.So(err, convey.ShouldBeNil)

			exp.Status = model.StatusPaused
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			convey.Convey("Then the existing assignment stays readable", func() {
				got, err := eng.GetOrCreateAssignment(ctx, "", "checkout-cta", "user-3", nil)
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.VariantKey, convey.ShouldEqual, a.VariantKey)
			})
		})

		convey.Convey("When all variant weights are zero", func() {
			exp.Variants = []model.Variant{{Key: "a", Weight: 0}, {Key: "b", Weight: 0}}
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			_, err := eng.GetOrCreateAssignment(ctx, "", "checkout-cta", "user-4", nil)
			convey.So(errors.Is(err, experiment.ErrValidation), convey.ShouldBeTrue)
		})
	})
}

func TestGetOrCreateAssignment_OrgFallback(t *testing.T) {
	convey.Convey("Given a global and an org-scoped experiment sharing a code", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		eng := newEngine(store)

		global := conversionExperiment("exp-global", "", "promo")
		scoped := conversionExperiment("exp-acme", "acme", "promo")
		convey.So(store.PutExperiment(ctx, global), convey.ShouldBeNil)
		convey.So(store.PutExperiment(ctx, scoped), convey.ShouldBeNil)

		convey.Convey("Then an acme caller lands on the scoped experiment", func() {
			a, err := eng.GetOrCreateAssignment(ctx, "acme", "promo", "user-1", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(a.ExperimentID, convey.ShouldEqual, "exp-acme")
		})

		convey.Convey("Then a caller from an org without an override falls back to global", func() {
			a, err := eng.GetOrCreateAssignment(ctx, "other", "promo", "user-1", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(a.ExperimentID, convey.ShouldEqual, "exp-global")
		})
	})
}

func TestGetOrCreateAssignment_Concurrent(t *testing.T) {
	convey.Convey("Given concurrent first-touch requests for one subject", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		eng := newEngine(store)

		exp := conversionExperiment("exp-1", "", "checkout-cta")
		convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

		const callers = 32
		var wg sync.WaitGroup
		results := make([]*model.Assignment, callers)
		errs := make([]error, callers)

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = eng.GetOrCreateAssignment(ctx, "", "checkout-cta", "user-hot", nil)
			}(i)
		}
		wg.Wait()

		convey.Convey("Then every caller gets the same assignment row", func() {
			for i := 0; i < callers; i++ {
				convey.So(errs[i], convey.ShouldBeNil)
				convey.So(results[i].ID, convey.ShouldEqual, results[0].ID)
				convey.So(results[i].VariantKey, convey.ShouldEqual, results[0].VariantKey)
			}
		})

		convey.Convey("Then the store holds exactly one row for the pair", func() {
			subjectKey := eng.SubjectKey("", "user-hot")
			a, err := store.Assignment(ctx, "exp-1", subjectKey)
			convey.So(err, convey.ShouldBeNil)
			convey.So(a.ID, convey.ShouldEqual, results[0].ID)
		})
	})
}

func TestGetOrCreateAssignment_Deterministic(t *testing.T) {
	convey.Convey("Given two engines over separate stores with the same salt", t, func() {
		ctx := context.Background()
		storeA := repository.NewMemStore()
		storeB := repository.NewMemStore()
		engA := newEngine(storeA)
		engB := newEngine(storeB)

		convey.So(storeA.PutExperiment(ctx, conversionExperiment("exp-1", "", "checkout-cta")), convey.ShouldBeNil)
		convey.So(storeB.PutExperiment(ctx, conversionExperiment("exp-1", "", "checkout-cta")), convey.ShouldBeNil)

		convey.Convey("Then both bucket every subject identically", func() {
			for i := 0; i < 50; i++ {
				subject := fmt.Sprintf("user-%d", i)
				a, err := engA.GetOrCreateAssignment(ctx, "", "checkout-cta", subject, nil)
				convey.So(err, convey.ShouldBeNil)
				b, err := engB.GetOrCreateAssignment(ctx, "", "checkout-cta", subject, nil)
				convey.So(err, convey.ShouldBeNil)
				convey.So(a.VariantKey, convey.ShouldEqual, b.VariantKey)
			}
		})
	})
}
