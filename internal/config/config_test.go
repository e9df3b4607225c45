package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/intelsync/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.RefreshInterval, convey.ShouldEqual, 2*time.Minute)
			convey.So(cfg.MISPMaxConns, convey.ShouldEqual, 4)
			convey.So(cfg.SightingMaxPerWindow, convey.ShouldEqual, 3)
			convey.So(cfg.SightingWindow, convey.ShouldEqual, time.Hour)
			convey.So(cfg.ReportSightings, convey.ShouldBeTrue)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the remote platform is not ready without url and key", func() {
			convey.So(errors.Is(cfg.SyncReady(), config.ErrMissingRemote), convey.ShouldBeTrue)

			cfg.MISPURL = "https://misp.example"
			convey.So(errors.Is(cfg.SyncReady(), config.ErrMissingRemote), convey.ShouldBeTrue)

			cfg.MISPAPIKey = "key"
			convey.So(cfg.SyncReady(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a valid config", t, func() {
		cfg := config.New()

		cases := map[string]func(c *config.Config){
			"empty addr":        func(c *config.Config) { c.Addr = "" },
			"zero interval":     func(c *config.Config) { c.RefreshInterval = 0 },
			"zero timeout":      func(c *config.Config) { c.MISPTimeout = 0 },
			"zero window":       func(c *config.Config) { c.SightingWindow = 0 },
			"negative max":      func(c *config.Config) { c.SightingMaxPerWindow = -1 },
			"negative lookback": func(c *config.Config) { c.SearchLookback = -time.Second },
			"zero queue":        func(c *config.Config) { c.EventQueueSize = 0 },
			"zero workers":      func(c *config.Config) { c.WorkerCount = 0 },
			"bad to_ids":        func(c *config.Config) { c.SearchToIDs = "maybe" },
		}

		for name, mutate := range cases {
			convey.Convey("Then "+name+" is rejected", func() {
				mutate(cfg)
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}

func TestConfig_ToIDs(t *testing.T) {
	convey.Convey("Given the to_ids filter", t, func() {
		cfg := config.New()

		convey.Convey("Then true and false produce a pointer", func() {
			cfg.SearchToIDs = "TRUE"
			v, err := cfg.ToIDs()
			convey.So(err, convey.ShouldBeNil)
			convey.So(*v, convey.ShouldBeTrue)

			cfg.SearchToIDs = "0"
			v, err = cfg.ToIDs()
			convey.So(err, convey.ShouldBeNil)
			convey.So(*v, convey.ShouldBeFalse)
		})

		convey.Convey("Then any omits the filter", func() {
			cfg.SearchToIDs = "any"
			v, err := cfg.ToIDs()
			convey.So(err, convey.ShouldBeNil)
			convey.So(v, convey.ShouldBeNil)
		})
	})
}
