package probe

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/okian/intelsync/internal/domain/mapping"
	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestBuildQuery(t *testing.T) {
	Convey("Given a probe configuration", t, func() {
		from := time.Unix(1_700_000_000, 0)
		cfg := &Config{EventID: "42", From: from, Limit: 5, Types: []string{"ip-dst"}, Tags: []string{"tlp:white"}}

		Convey("Then the search carries every filter", func() {
			q := BuildQuery(cfg)
			So(q.EventID, ShouldResemble, []string{"42"})
			So(q.From, ShouldEqual, int64(1_700_000_000))
			So(q.Limit, ShouldEqual, 5)
			So(q.Types, ShouldResemble, []string{"ip-dst"})
			So(q.Tags, ShouldResemble, []string{"tlp:white"})
		})

		Convey("Then empty filters are omitted", func() {
			q := BuildQuery(&Config{})
			So(q.EventID, ShouldBeNil)
			So(q.From, ShouldEqual, 0)
		})
	})
}

func TestSummarize(t *testing.T) {
	Convey("Given fetched attributes of mixed types", t, func() {
		attrs := []model.RemoteAttribute{
			{Type: "ip-dst"}, {Type: "ip-dst"}, {Type: "domain"},
			{Type: "ssdeep"}, {Type: "btc"},
		}

		sum := Summarize(attrs, mapping.New())

		Convey("Then types are counted, classified and ordered by count", func() {
			So(sum.Total, ShouldEqual, 5)
			So(sum.Types[0].Type, ShouldEqual, "ip-dst")
			So(sum.Types[0].Count, ShouldEqual, 2)
			So(sum.Types[0].Kind, ShouldEqual, string(model.KindAddr))
			So(sum.Stats, ShouldResemble, mapping.Stats{Total: 5, Mapped: 3, Ignored: 1, Unmapped: 1})
		})

		Convey("Then the table names each class", func() {
			var buf bytes.Buffer
			So(Render(&buf, sum), ShouldBeNil)
			out := buf.String()
			So(out, ShouldContainSubstring, "ssdeep")
			So(out, ShouldContainSubstring, "ignored")
			So(out, ShouldContainSubstring, "unmapped")
			So(out, ShouldContainSubstring, "total 5: mapped 3, ignored 1, unmapped 1")
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a stub remote platform", t, func() {
		var body map[string]interface{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &body)
			_, _ = w.Write([]byte(`{"response":{"Attribute":[
				{"id":"1","event_id":"42","type":"url","value":"http://a.example/x","uuid":"u1"},
				{"id":"2","event_id":"42","type":"url","value":"http://b.example/y","uuid":"u2"}
			]}}`))
		}))
		defer srv.Close()

		out := filepath.Join(t.TempDir(), "attrs.json")
		cfg := &Config{URL: srv.URL, APIKey: "k", EventID: "42", Limit: 2, Timeout: 5 * time.Second, Output: out}

		var buf bytes.Buffer
		sum, err := Run(context.Background(), cfg, &buf)

		Convey("Then the search is summarized and saved", func() {
			So(err, ShouldBeNil)
			So(sum.Total, ShouldEqual, 2)
			So(sum.Truncated, ShouldBeTrue)
			So(body["eventid"], ShouldResemble, []interface{}{"42"})
			So(buf.String(), ShouldContainSubstring, "result hit the limit")

			data, err := os.ReadFile(out)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, "a.example")
		})
	})

	Convey("Given no remote URL", t, func() {
		_, err := Run(context.Background(), &Config{APIKey: "k"}, io.Discard)

		Convey("Then the run fails before any request", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSplitList(t *testing.T) {
	Convey("Comma-separated values are trimmed and blanks dropped", t, func() {
		So(SplitList(" a, b,,c "), ShouldResemble, []string{"a", "b", "c"})
		So(SplitList(""), ShouldBeNil)
	})
}
