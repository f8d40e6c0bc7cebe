package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/javimosch/superbackend-sub004/internal/adapters/repository"
	app "github.com/javimosch/superbackend-sub004/internal/app"
	"github.com/javimosch/superbackend-sub004/internal/config"
	"github.com/javimosch/superbackend-sub004/internal/domain/model"
)

func TestService_Lifecycle(t *testing.T) {
	convey.Convey("Given a service on in-memory adapters", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.SchedulerEnabled = false

		svc := app.New(cfg, app.WithStore(repository.NewMemStore()))

		convey.Convey("When starting", func() {
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			defer svc.Stop()

			convey.Convey("Then the engine and hub are wired", func() {
				convey.So(svc.Engine(), convey.ShouldNotBeNil)
				convey.So(svc.Hub(), convey.ShouldNotBeNil)
			})

			convey.Convey("Then starting again is a no-op", func() {
				convey.So(svc.Start(ctx), convey.ShouldBeNil)
			})

			convey.Convey("Then the engine serves requests end to end", func() {
				store := repository.NewMemStore()
				svc2 := app.New(cfg, app.WithStore(store))
				convey.So(svc2.Start(ctx), convey.ShouldBeNil)
				defer svc2.Stop()

				exp := &model.Experiment{
					ID:     "exp-1",
					Code:   "smoke",
					Status: model.StatusRunning,
					Variants: []model.Variant{
						{Key: "a", Weight: 100},
					},
					PrimaryMetric: model.MetricSpec{Key: "view", Kind: model.MetricCount},
					StartedAt:     time.Now().UTC(),
				}
				convey.So(store.PutExperiment(ctx, exp), convey.ShouldBeNil)

				a, err := svc2.Engine().GetOrCreateAssignment(ctx, "", "smoke", "user-1", nil)
				convey.So(err, convey.ShouldBeNil)
				convey.So(a.VariantKey, convey.ShouldEqual, "a")
			})
		})

		convey.Convey("When stopping without starting", func() {
			fresh := app.New(cfg, app.WithStore(repository.NewMemStore()))

			convey.Convey("Then stop is safe", func() {
				convey.So(func() { fresh.Stop() }, convey.ShouldNotPanic)
			})
		})
	})
}

func TestService_SchedulerShutdown(t *testing.T) {
	convey.Convey("Given a service with the scheduler enabled", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.AggregationInterval = 10 * time.Millisecond
		cfg.RetentionInterval = 10 * time.Millisecond

		svc := app.New(cfg, app.WithStore(repository.NewMemStore()))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)

		// Let both loops tick at least once.
		time.Sleep(50 * time.Millisecond)

		convey.Convey("Then stop joins the loops without hanging", func() {
			done := make(chan struct{})
			go func() {
				svc.Stop()
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				convey.So("scheduler shutdown timed out", convey.ShouldBeEmpty)
			}
		})
	})
}
