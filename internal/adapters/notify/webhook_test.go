package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/javimosch/superbackend-sub004/internal/adapters/notify"
)

func TestHTTPWebhook_Dispatch(t *testing.T) {
	convey.Convey("Given a webhook endpoint", t, func() {
		ctx := context.Background()

		var gotHeader string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeader = r.Header.Get("X-Webhook-Event")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		sink := notify.NewHTTPWebhook(srv.URL)

		convey.Convey("When dispatching an event", func() {
			err := sink.Dispatch(ctx, "acme", "experiment.winner_changed", map[string]any{"winner_variant": "a"})
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the envelope carries the event, org, and payload", func() {
				convey.So(gotHeader, convey.ShouldEqual, "experiment.winner_changed")

				var env struct {
					Event   string         `json:"event"`
					OrgID   string         `json:"org_id"`
					Payload map[string]any `json:"payload"`
				}
				convey.So(json.Unmarshal(gotBody, &env), convey.ShouldBeNil)
				convey.So(env.Event, convey.ShouldEqual, "experiment.winner_changed")
				convey.So(env.OrgID, convey.ShouldEqual, "acme")
				convey.So(env.Payload["winner_variant"], convey.ShouldEqual, "a")
			})
		})
	})
}

func TestHTTPWebhook_Errors(t *testing.T) {
	convey.Convey("Given a failing endpoint", t, func() {
		ctx := context.Background()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusBadGateway)
		}))
		defer srv.Close()

		convey.Convey("Then a non-2xx response surfaces as an error", func() {
			sink := notify.NewHTTPWebhook(srv.URL)
			err := sink.Dispatch(ctx, "acme", "experiment.winner_changed", nil)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("Then an unreachable endpoint surfaces as an error", func() {
			sink := notify.NewHTTPWebhook("http://127.0.0.1:1")
			err := sink.Dispatch(ctx, "acme", "experiment.winner_changed", nil)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
