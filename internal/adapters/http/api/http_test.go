package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/okian/intelsync/internal/adapters/http/api"
	"github.com/okian/intelsync/internal/adapters/mq/queue"
	service "github.com/okian/intelsync/internal/app"
	"github.com/okian/intelsync/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	err      error
	enqueued []model.MatchEvent
}

func (m *mockQueue) TryEnqueue(_ context.Context, e model.MatchEvent) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, e)
	return nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

const validMatch = `{
  "seen": {"indicator": "1.2.3.4", "indicator_type": "Intel::ADDR", "where": "Conn::IN_ORIG"},
  "items": [{"indicator": "1.2.3.4", "indicator_type": "Intel::ADDR",
             "meta": {"source": "MISP-7", "report_sightings": true, "misp_attribute_uid": "u-1"}}]
}`

func serve(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		q := &mockQueue{}
		stats := &mockStatsProvider{stats: map[string]interface{}{"sync_state": "idle", "queue_length": 0}}
		mux := http.NewServeMux()
		api.NewServer(q, stats).Register(context.Background(), mux)

		Convey("When probing health", func() {
			w := serve(mux, http.MethodGet, "/healthz", "")

			Convey("Then the service reports ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When scraping metrics", func() {
			serve(mux, http.MethodGet, "/healthz", "")
			w := serve(mux, http.MethodGet, "/metrics", "")

			Convey("Then the prometheus exposition is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "intelsync_http_requests_total")
			})
		})

		Convey("When reading stats", func() {
			w := serve(mux, http.MethodGet, "/stats", "")

			Convey("Then the provider's map is encoded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var got map[string]interface{}
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(got["sync_state"], ShouldEqual, "idle")
			})
		})

		Convey("When stats is called with the wrong method", func() {
			w := serve(mux, http.MethodPost, "/stats", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestMatchesHandler(t *testing.T) {
	Convey("Given the matches endpoint", t, func() {
		q := &mockQueue{}
		mux := http.NewServeMux()
		api.NewServer(q, &mockStatsProvider{}).Register(context.Background(), mux)

		Convey("When a valid batch is posted", func() {
			w := serve(mux, http.MethodPost, "/matches", validMatch)

			Convey("Then it is accepted and queued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"status":"accepted"`)
				So(len(q.enqueued), ShouldEqual, 1)
				So(q.enqueued[0].Items[0].Meta.MISPAttributeUID, ShouldEqual, "u-1")
				So(q.enqueued[0].Seen.Where, ShouldEqual, "Conn::IN_ORIG")
			})
		})

		Convey("When the body is not JSON", func() {
			w := serve(mux, http.MethodPost, "/matches", "{not json")

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, `"code":"bad_request"`)
				So(q.enqueued, ShouldBeEmpty)
			})
		})

		Convey("When the batch has no items", func() {
			w := serve(mux, http.MethodPost, "/matches", `{"seen":{"indicator":"1.2.3.4"},"items":[]}`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "missing items")
			})
		})

		Convey("When the seen indicator is missing", func() {
			w := serve(mux, http.MethodPost, "/matches", `{"items":[{"indicator":"x"}]}`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "missing seen.indicator")
			})
		})

		Convey("When the queue is full", func() {
			q.err = queue.ErrFull
			w := serve(mux, http.MethodPost, "/matches", validMatch)

			Convey("Then backpressure is reported", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Body.String(), ShouldContainSubstring, `"code":"backpressure"`)
			})
		})

		Convey("When the queue is closed", func() {
			q.err = queue.ErrClosed
			w := serve(mux, http.MethodPost, "/matches", validMatch)

			Convey("Then the service is unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(w.Body.String(), ShouldContainSubstring, `"code":"unavailable"`)
			})
		})

		Convey("When the service is not started", func() {
			q.err = service.ErrNotStarted
			w := serve(mux, http.MethodPost, "/matches", validMatch)

			Convey("Then the service is unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(w.Body.String(), ShouldContainSubstring, `"code":"unavailable"`)
			})
		})

		Convey("When called with GET", func() {
			w := serve(mux, http.MethodGet, "/matches", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given a handler without a queue", t, func() {
		h := api.NewMatchesHandler(nil)
		w := httptest.NewRecorder()
		h.HandlePostMatch(w, httptest.NewRequest(http.MethodPost, "/matches", strings.NewReader(validMatch)))

		Convey("Then the service is unavailable", func() {
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})

	Convey("Given a stats handler without a provider", t, func() {
		w := httptest.NewRecorder()
		api.NewStatsHandler(nil).HandleStats(w, httptest.NewRequest(http.MethodGet, "/stats", http.NoBody))

		Convey("Then the service is unavailable", func() {
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("unexpected EOF")
		err := api.WrapKind("api.post_match", api.ErrBadRequest, cause)

		Convey("Then kind and cause both match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.post_match: bad request: unexpected EOF")
		})

		Convey("Then a nil cause yields the bare kind", func() {
			err := api.WrapKind("op", api.ErrBackpressure, nil)
			So(errors.Is(err, api.ErrBackpressure), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "op: backpressure")
		})
	})
}

func TestMetricsMiddleware(t *testing.T) {
	Convey("Given a handler wrapped in the metrics middleware", t, func() {
		h := api.MetricsMiddleware(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}, "teapot")

		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/teapot", http.NoBody))

		Convey("Then the status and body pass through", func() {
			So(w.Code, ShouldEqual, http.StatusTeapot)
			So(w.Body.String(), ShouldEqual, "short and stout")
		})
	})
}
