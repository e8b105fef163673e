package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/teamcomp/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"TEAMCOMP_CONFIG",
	"TEAMCOMP_ENV_FILE",
	"TEAMCOMP_ADDR",
	"TEAMCOMP_QUEUE_SIZE",
	"TEAMCOMP_WORKER_COUNT",
	"TEAMCOMP_DATABASE_DRIVER",
	"TEAMCOMP_DATABASE_DSN",
	"TEAMCOMP_VALIDATE_WORK_UNITS",
	"TEAMCOMP_MONTH_END_HOUR",
	"TEAMCOMP_LOG_LEVEL",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeTemp(dir, name, content string) string {
	path := filepath.Join(dir, name)
	convey.So(os.WriteFile(path, []byte(content), 0o600), convey.ShouldBeNil)
	return path
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
				convey.So(cfg.MonthEndResultEnabled, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("TEAMCOMP_ADDR", ":8080")
			_ = os.Setenv("TEAMCOMP_QUEUE_SIZE", "64")
			_ = os.Setenv("TEAMCOMP_VALIDATE_WORK_UNITS", "false")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.ValidateWorkUnits, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			path := writeTemp(dir, "config.yaml", `
addr: ":9090"
worker_count: 24
database_driver: sqlite
database_dsn: "file:teamcomp.db"
month_end_hour: 22
`)
			_ = os.Setenv("TEAMCOMP_CONFIG", path)
			_ = os.Setenv("TEAMCOMP_WORKER_COUNT", "32")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				convey.So(cfg.DatabaseDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.MonthEndHour, convey.ShouldEqual, 22)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			})
		})

		convey.Convey("When a dotenv file is named", func() {
			path := writeTemp(dir, "teamcomp.env", "TEAMCOMP_LOG_LEVEL=debug\nTEAMCOMP_ADDR=:7070\n")
			_ = os.Setenv("TEAMCOMP_ENV_FILE", path)
			_ = os.Setenv("TEAMCOMP_ADDR", ":6060")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it fills only what the environment lacks", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.Addr, convey.ShouldEqual, ":6060")
			})
		})

		convey.Convey("When the named dotenv file is missing", func() {
			_ = os.Setenv("TEAMCOMP_ENV_FILE", filepath.Join(dir, "missing.env"))

			cfg, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			_ = os.Setenv("TEAMCOMP_CONFIG", writeTemp(dir, "bad.yaml", `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("TEAMCOMP_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("TEAMCOMP_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When postgres is selected without a DSN", func() {
			_ = os.Setenv("TEAMCOMP_DATABASE_DRIVER", "postgres")

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}
