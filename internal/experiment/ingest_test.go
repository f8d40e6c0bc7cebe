package experiment_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/javimosch/superbackend-sub004/internal/adapters/repository"
	"github.com/javimosch/superbackend-sub004/internal/experiment"
)

func TestIngestEvents(t *testing.T) {
	convey.Convey("Given a running experiment", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		eng := newEngine(store)

		exp := conversionExperiment("exp-1", "", "checkout-cta")
		convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

		convey.Convey("When ingesting a batch with explicit variant keys", func() {
			value := 19.99
			ts := testNow.Add(-time.Hour)
			n, err := eng.IngestEvents(ctx, "", "checkout-cta", "user-1", []experiment.IncomingEvent{
				{EventKey: "view", VariantKey: "a"},
				{EventKey: "purchase", VariantKey: "a", Value: &value, TS: &ts},
			})
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 2)

			convey.Convey("Then defaults and explicit fields are both honored", func() {
				events, err := store.EventsInWindow(ctx, "exp-1", []string{"view", "purchase"}, exp.StartedAt, testNow)
				convey.So(err, convey.ShouldBeNil)
				convey.So(events, convey.ShouldHaveLength, 2)

				byKey := map[string]float64{}
				for _, ev := range events {
					byKey[ev.EventKey] = ev.Value
					convey.So(ev.SubjectKey, convey.ShouldEqual, "global::user-1")
					convey.So(ev.VariantKey, convey.ShouldEqual, "a")
				}
				convey.So(byKey["view"], convey.ShouldEqual, 1)
				convey.So(byKey["purchase"], convey.ShouldAlmostEqual, 19.99)
			})
		})

		convey.Convey("When the batch omits variant keys", func() {
			n, err := eng.IngestEvents(ctx, "", "checkout-cta", "user-2", []experiment.IncomingEvent{
				{EventKey: "view"},
				{EventKey: "purchase"},
			})
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 2)

			convey.Convey("Then ingestion created the assignment as a side effect", func() {
				a, err := store.Assignment(ctx, "exp-1", "global::user-2")
				convey.So(err, convey.ShouldBeNil)

				events, err := store.EventsInWindow(ctx, "exp-1", []string{"view", "purchase"}, exp.StartedAt, testNow)
				convey.So(err, convey.ShouldBeNil)
				for _, ev := range events {
					convey.So(ev.VariantKey, convey.ShouldEqual, a.VariantKey)
				}
			})
		})

		convey.Convey("When the batch is invalid", func() {
			convey.Convey("Then an empty batch is rejected", func() {
				_, err := eng.IngestEvents(ctx, "", "checkout-cta", "user-3", nil)
				convey.So(errors.Is(err, experiment.ErrValidation), convey.ShouldBeTrue)
			})

			convey.Convey("Then a missing event key rejects the whole batch", func() {
				n, err := eng.IngestEvents(ctx, "", "checkout-cta", "user-3", []experiment.IncomingEvent{
					{EventKey: "view"},
					{EventKey: ""},
				})
				convey.So(errors.Is(err, experiment.ErrValidation), convey.ShouldBeTrue)
				convey.So(n, convey.ShouldEqual, 0)

				events, err := store.EventsInWindow(ctx, "exp-1", []string{"view"}, exp.StartedAt, testNow)
				convey.So(err, convey.ShouldBeNil)
				convey.So(events, convey.ShouldBeEmpty)
			})

			convey.Convey("Then a non-finite value is rejected", func() {
				bad := math.NaN()
				_, err := eng.IngestEvents(ctx, "", "checkout-cta", "user-3", []experiment.IncomingEvent{
					{EventKey: "view", Value: &bad},
				})
				convey.So(errors.Is(err, experiment.ErrValidation), convey.ShouldBeTrue)
			})

			convey.Convey("Then an undeclared variant key is rejected", func() {
				_, err := eng.IngestEvents(ctx, "", "checkout-cta", "user-3", []experiment.IncomingEvent{
					{EventKey: "view", VariantKey: "ghost"},
				})
				convey.So(errors.Is(err, experiment.ErrValidation), convey.ShouldBeTrue)
			})

			convey.Convey("Then an empty subject id is rejected", func() {
				_, err := eng.IngestEvents(ctx, "", "checkout-cta", "", []experiment.IncomingEvent{
					{EventKey: "view"},
				})
				convey.So(errors.Is(err, experiment.ErrValidation), convey.ShouldBeTrue)
			})
		})
	})
}
