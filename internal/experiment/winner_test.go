package experiment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/javimosch/superbackend-sub004/internal/adapters/repository"
	"github.com/javimosch/superbackend-sub004/internal/domain/model"
	"github.com/javimosch/superbackend-sub004/internal/experiment"
)

func TestEvaluateWinner_PolicyGates(t *testing.T) {
	convey.Convey("Given experiments in various policy states", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		eng := newEngine(store)

		convey.Convey("When the policy is manual", func() {
			exp := conversionExperiment("exp-1", "", "manual-test")
			exp.WinnerPolicy.Mode = model.WinnerManual
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			dec, err := eng.EvaluateWinner(ctx, "exp-1")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then no winner is picked and it is not an error", func() {
				convey.So(dec.Decided, convey.ShouldBeFalse)
				convey.So(dec.Reason, convey.ShouldEqual, "manual_mode")
			})
		})

		convey.Convey("When a manual experiment already carries a recorded winner", func() {
			exp := conversionExperiment("exp-1", "", "manual-decided-test")
			exp.WinnerPolicy.Mode = model.WinnerManual
			exp.WinnerVariantKey = "b"
			exp.WinnerDecidedAt = testNow.Add(-time.Hour)
			exp.WinnerReason = "manual_override"
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			dec, err := eng.EvaluateWinner(ctx, "exp-1")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the manual mode answer wins over the recorded winner", func() {
				convey.So(dec.Decided, convey.ShouldBeFalse)
				convey.So(dec.Reason, convey.ShouldEqual, "manual_mode")
			})
		})

		convey.Convey("When the pick-after window has not elapsed", func() {
			exp := conversionExperiment("exp-1", "", "early-test")
			exp.WinnerPolicy.PickAfter = 48 * time.Hour // started 24h ago
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			dec, err := eng.EvaluateWinner(ctx, "exp-1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(dec.Decided, convey.ShouldBeFalse)
			convey.So(dec.Reason, convey.ShouldEqual, "too_early")
		})

		convey.Convey("When the experiment never started", func() {
			exp := conversionExperiment("exp-1", "", "unstarted-test")
			exp.StartedAt = time.Time{}
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			dec, err := eng.EvaluateWinner(ctx, "exp-1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(dec.Reason, convey.ShouldEqual, "too_early")
		})

		convey.Convey("When no variant clears the rate guard", func() {
			exp := conversionExperiment("exp-1", "", "thin-test")
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			// 5 exposures per variant against a 10-exposure minimum.
			convey.So(seedVariantEvents(ctx, store, exp, "a", "view", 5), convey.ShouldBeNil)
			convey.So(seedVariantEvents(ctx, store, exp, "a", "purchase", 2), convey.ShouldBeNil)
			convey.So(seedVariantEvents(ctx, store, exp, "b", "view", 5), convey.ShouldBeNil)
			_, err := eng.AggregateExperiment(ctx, "exp-1", time.Hour, time.Time{}, time.Time{})
			convey.So(err, convey.ShouldBeNil)

			dec, err := eng.EvaluateWinner(ctx, "exp-1")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the decision is deferred for lack of data", func() {
				convey.So(dec.Decided, convey.ShouldBeFalse)
				convey.So(dec.Reason, convey.ShouldEqual, "insufficient_data")

				got, err := store.ExperimentByID(ctx, "exp-1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.Status, convey.ShouldEqual, model.StatusRunning)
			})
		})

		convey.Convey("When the experiment id is unknown", func() {
			_, err := eng.EvaluateWinner(ctx, "ghost")
			convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
		})
	})
}

func TestEvaluateWinner_Override(t *testing.T) {
	convey.Convey("Given an operator override on a qualified experiment", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		eng := newEngine(store)

		exp := conversionExperiment("exp-1", "", "override-test")
		exp.WinnerPolicy.OverrideVariantKey = "b"
		convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

		// Variant a earns the better rate; the override should still win.
		convey.So(seedVariantEvents(ctx, store, exp, "a", "view", 20), convey.ShouldBeNil)
		convey.So(seedVariantEvents(ctx, store, exp, "a", "purchase", 15), convey.ShouldBeNil)
		convey.So(seedVariantEvents(ctx, store, exp, "b", "view", 20), convey.ShouldBeNil)
		convey.So(seedVariantEvents(ctx, store, exp, "b", "purchase", 5), convey.ShouldBeNil)
		_, err := eng.AggregateExperiment(ctx, "exp-1", time.Hour, time.Time{}, time.Time{})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When evaluating", func() {
			dec, err := eng.EvaluateWinner(ctx, "exp-1")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the override variant wins with the override reason", func() {
				convey.So(dec.Decided, convey.ShouldBeTrue)
				convey.So(dec.WinnerVariantKey, convey.ShouldEqual, "b")
				convey.So(dec.Reason, convey.ShouldEqual, "manual_override")
			})
		})

		convey.Convey("When the override names an undeclared variant", func() {
			exp.WinnerPolicy.OverrideVariantKey = "ghost"
			convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

			_, err := eng.EvaluateWinner(ctx, "exp-1")
			convey.So(errors.Is(err, experiment.ErrValidation), convey.ShouldBeTrue)
		})
	})
}

func TestEvaluateWinner_Minimize(t *testing.T) {
	convey.Convey("Given a minimize objective on an avg metric", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		eng := newEngine(store)

		exp := conversionExperiment("exp-1", "", "latency-test")
		exp.PrimaryMetric = model.MetricSpec{
			Key:       "checkout_seconds",
			Kind:      model.MetricAvg,
			Objective: model.ObjectiveMinimize,
		}
		convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

		base := exp.StartedAt
		_, err := store.InsertEvents(ctx, []model.Event{
			{ID: "e1", ExperimentID: "exp-1", SubjectKey: "global::u1", VariantKey: "a", EventKey: "checkout_seconds", Value: 30, TS: base.Add(time.Minute)},
			{ID: "e2", ExperimentID: "exp-1", SubjectKey: "global::u2", VariantKey: "a", EventKey: "checkout_seconds", Value: 40, TS: base.Add(2 * time.Minute)},
			{ID: "e3", ExperimentID: "exp-1", SubjectKey: "global::u3", VariantKey: "b", EventKey: "checkout_seconds", Value: 10, TS: base.Add(3 * time.Minute)},
			{ID: "e4", ExperimentID: "exp-1", SubjectKey: "global::u4", VariantKey: "b", EventKey: "checkout_seconds", Value: 20, TS: base.Add(4 * time.Minute)},
		})
		convey.So(err, convey.ShouldBeNil)

		_, err = eng.AggregateExperiment(ctx, "exp-1", time.Hour, time.Time{}, time.Time{})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When evaluating", func() {
			dec, err := eng.EvaluateWinner(ctx, "exp-1")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the lower average wins", func() {
				convey.So(dec.Decided, convey.ShouldBeTrue)
				convey.So(dec.WinnerVariantKey, convey.ShouldEqual, "b")
				convey.So(dec.Reason, convey.ShouldEqual, "auto:avg:minimize")
				convey.So(dec.Scores[0].Score, convey.ShouldAlmostEqual, 15)
				convey.So(dec.Scores[1].Score, convey.ShouldAlmostEqual, 35)
			})
		})
	})
}

func TestGetWinnerSnapshot(t *testing.T) {
	convey.Convey("Given an undecided experiment", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		eng := newEngine(store)

		exp := conversionExperiment("exp-1", "", "snap-test")
		convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

		convey.Convey("Then the snapshot reports no winner", func() {
			snap, err := eng.GetWinnerSnapshot(ctx, "", "snap-test")
			convey.So(err, convey.ShouldBeNil)
			convey.So(snap.Decided, convey.ShouldBeFalse)
			convey.So(snap.Status, convey.ShouldEqual, "running")
			convey.So(snap.WinnerVariantKey, convey.ShouldBeEmpty)
		})

		convey.Convey("Then an unknown code is not found", func() {
			_, err := eng.GetWinnerSnapshot(ctx, "", "ghost")
			convey.So(errors.Is(err, experiment.ErrNotFound), convey.ShouldBeTrue)
		})
	})
}
