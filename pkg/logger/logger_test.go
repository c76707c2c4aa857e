package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	convey.Convey("Given the global logger", t, func() {
		convey.Convey("When initialized with defaults", func() {
			err := Init()

			convey.Convey("Then Get returns a usable logger", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(Get(), convey.ShouldNotBeNil)
				convey.So(Sync(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When initialized with an unknown format", func() {
			err := Init(WithFormat("xml"))

			convey.Convey("Then it fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestLoggerJSONOutput(t *testing.T) {
	convey.Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		convey.So(Init(WithFormat("json"), WithOutput(&buf)), convey.ShouldBeNil)
		ctx := context.Background()

		convey.Convey("When a named logger writes a record", func() {
			Named("ingest").Info(ctx, "batch stored",
				String("employee", "emp-1"),
				Int("synced", 3),
				Error(errors.New("boom")),
			)

			var rec map[string]any
			convey.So(json.Unmarshal(buf.Bytes(), &rec), convey.ShouldBeNil)

			convey.Convey("Then fields, component and source are present", func() {
				convey.So(rec["msg"], convey.ShouldEqual, "batch stored")
				convey.So(rec["component"], convey.ShouldEqual, "ingest")
				convey.So(rec["employee"], convey.ShouldEqual, "emp-1")
				convey.So(rec["synced"], convey.ShouldEqual, 3)
				convey.So(rec["error"], convey.ShouldEqual, "boom")
				convey.So(rec["source"], convey.ShouldContainSubstring, "logger_test.go")
			})
		})

		convey.Convey("When the level is raised to error", func() {
			convey.So(SetLevelString("error"), convey.ShouldBeNil)
			Get().Info(ctx, "dropped")
			Get().Warn(ctx, "dropped too")

			convey.Convey("Then nothing below error is written", func() {
				convey.So(strings.TrimSpace(buf.String()), convey.ShouldBeEmpty)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	convey.Convey("Given level strings", t, func() {
		convey.So(Init(), convey.ShouldBeNil)
		for _, lvl := range []string{"debug", "info", "", "WARN", "warning", "error"} {
			convey.So(SetLevelString(lvl), convey.ShouldBeNil)
		}
		convey.So(SetLevelString("verbose"), convey.ShouldNotBeNil)
	})
}
