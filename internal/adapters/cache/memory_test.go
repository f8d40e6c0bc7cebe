package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/javimosch/superbackend-sub004/internal/adapters/cache"
)

func TestMemory(t *testing.T) {
	convey.Convey("Given a memory cache with a pinned clock", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		c := cache.NewMemory(cache.WithClock(func() time.Time { return now }))

		convey.Convey("When setting and getting a value", func() {
			c.Set(ctx, "k", []byte("v"), time.Minute)

			val, ok := c.Get(ctx, "k")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(string(val), convey.ShouldEqual, "v")
		})

		convey.Convey("When the TTL elapses", func() {
			c.Set(ctx, "k", []byte("v"), time.Minute)
			now = now.Add(time.Minute + time.Second)

			convey.Convey("Then the entry is gone", func() {
				_, ok := c.Get(ctx, "k")
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(c.Len(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When setting with a non-positive TTL", func() {
			c.Set(ctx, "k", []byte("v"), 0)

			convey.Convey("Then nothing is stored", func() {
				_, ok := c.Get(ctx, "k")
				convey.So(ok, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When deleting by prefix", func() {
			c.Set(ctx, "exp:1:assign:u1", []byte("a"), time.Minute)
			c.Set(ctx, "exp:1:winner", []byte("b"), time.Minute)
			c.Set(ctx, "exp:2:winner", []byte("c"), time.Minute)

			c.DeletePrefix(ctx, "exp:1:")

			convey.Convey("Then only the scoped keys are removed", func() {
				_, ok := c.Get(ctx, "exp:1:assign:u1")
				convey.So(ok, convey.ShouldBeFalse)
				_, ok = c.Get(ctx, "exp:1:winner")
				convey.So(ok, convey.ShouldBeFalse)
				_, ok = c.Get(ctx, "exp:2:winner")
				convey.So(ok, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When deleting a single key", func() {
			c.Set(ctx, "k", []byte("v"), time.Minute)
			c.Delete(ctx, "k")

			_, ok := c.Get(ctx, "k")
			convey.So(ok, convey.ShouldBeFalse)
		})
	})
}
