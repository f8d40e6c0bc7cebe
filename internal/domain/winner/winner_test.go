package winner_test

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
	"github.com/javimosch/superbackend-sub004/internal/domain/winner"
)

func TestScoreRate(t *testing.T) {
	convey.Convey("Given conversion and exposure totals", t, func() {
		convey.Convey("When exposures are present", func() {
			s := winner.ScoreRate(winner.Totals{Count: 15}, winner.Totals{Count: 20})

			convey.Convey("Then the score is the conversion rate", func() {
				convey.So(s.Score, convey.ShouldAlmostEqual, 0.75)
				convey.So(s.Conversions, convey.ShouldEqual, 15)
				convey.So(s.Exposures, convey.ShouldEqual, 20)
			})
		})

		convey.Convey("When there are no exposures", func() {
			s := winner.ScoreRate(winner.Totals{Count: 3}, winner.Totals{})

			convey.Convey("Then the score is zero instead of dividing by zero", func() {
				convey.So(s.Score, convey.ShouldEqual, 0)
			})
		})
	})
}

func TestScorePlain(t *testing.T) {
	convey.Convey("Given rolled-up totals", t, func() {
		totals := winner.Totals{Count: 4, Sum: 10}

		convey.Convey("Then count scores by event count", func() {
			convey.So(winner.ScorePlain(model.MetricCount, totals).Score, convey.ShouldEqual, 4)
		})
		convey.Convey("Then sum scores by value sum", func() {
			convey.So(winner.ScorePlain(model.MetricSum, totals).Score, convey.ShouldEqual, 10)
		})
		convey.Convey("Then avg scores by mean value", func() {
			convey.So(winner.ScorePlain(model.MetricAvg, totals).Score, convey.ShouldAlmostEqual, 2.5)
		})
		convey.Convey("Then avg of nothing is zero", func() {
			convey.So(winner.ScorePlain(model.MetricAvg, winner.Totals{}).Score, convey.ShouldEqual, 0)
		})
	})
}

func TestRank(t *testing.T) {
	convey.Convey("Given variant scores", t, func() {
		scores := []winner.VariantScore{
			{VariantKey: "a", Score: 0.2},
			{VariantKey: "b", Score: 0.8},
			{VariantKey: "c", Score: 0.5},
		}

		convey.Convey("When maximizing", func() {
			ranked := winner.Rank(scores, model.ObjectiveMaximize)

			convey.Convey("Then the highest score leads", func() {
				convey.So(ranked[0].VariantKey, convey.ShouldEqual, "b")
				convey.So(ranked[2].VariantKey, convey.ShouldEqual, "a")
			})
			convey.Convey("Then the input order is untouched", func() {
				convey.So(scores[0].VariantKey, convey.ShouldEqual, "a")
			})
		})

		convey.Convey("When minimizing", func() {
			ranked := winner.Rank(scores, model.ObjectiveMinimize)

			convey.Convey("Then the lowest score leads", func() {
				convey.So(ranked[0].VariantKey, convey.ShouldEqual, "a")
			})
		})

		convey.Convey("When scores tie", func() {
			tied := []winner.VariantScore{
				{VariantKey: "first", Score: 0.5},
				{VariantKey: "second", Score: 0.5},
			}
			ranked := winner.Rank(tied, model.ObjectiveMaximize)

			convey.Convey("Then declaration order breaks the tie", func() {
				convey.So(ranked[0].VariantKey, convey.ShouldEqual, "first")
			})
		})
	})
}

func TestPassesRateGuard(t *testing.T) {
	convey.Convey("Given rate scores with raw totals", t, func() {
		scores := []winner.VariantScore{
			{VariantKey: "a", Conversions: 15, Exposures: 20},
			{VariantKey: "b", Conversions: 5, Exposures: 20},
		}

		convey.Convey("Then a variant clearing both thresholds passes", func() {
			convey.So(winner.PassesRateGuard(scores, 10, 1), convey.ShouldBeTrue)
		})

		convey.Convey("Then too few exposures everywhere fails", func() {
			convey.So(winner.PassesRateGuard(scores, 100, 1), convey.ShouldBeFalse)
		})

		convey.Convey("Then too few conversions everywhere fails", func() {
			convey.So(winner.PassesRateGuard(scores, 10, 50), convey.ShouldBeFalse)
		})

		convey.Convey("Then zero thresholds always pass", func() {
			convey.So(winner.PassesRateGuard(scores, 0, 0), convey.ShouldBeTrue)
		})
	})
}
