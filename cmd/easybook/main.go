package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"easybook/internal/capture"
	"easybook/internal/config"
	"easybook/internal/ics"
	appLog "easybook/internal/log"
	"easybook/internal/report"
	"easybook/internal/source"
	"easybook/internal/store"
	"easybook/internal/web"
)

const version = "0.1.0"

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		appLog.Error("easybook failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "easybook",
		Usage:   "Turn facility reservation exports into booking calendars and weekly reports.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "./config.yaml",
				Usage:   "path to the YAML config; written with defaults if missing",
				EnvVars: []string{"EASYBOOK_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error (overrides config)",
				EnvVars: []string{"EASYBOOK_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "encoding",
				Usage:   "input encoding: auto, utf-8 or shift_jis (overrides config)",
				EnvVars: []string{"EASYBOOK_ENCODING"},
			},
		},
		Commands: []*cli.Command{
			convertCommand(),
			serveCommand(),
			exportCommand(),
		},
	}
}

// loadConfig reads the config named by --config and applies the global
// overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if enc := c.String("encoding"); enc != "" {
		cfg.InputEncoding = enc
		cfg.Normalize()
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "in", Usage: "export CSV to read"},
		&cli.StringFlag{Name: "dir", Usage: "read the newest *.csv in this directory (default: watch_dir)"},
	}
}

// inputPath resolves --in / --dir to one file.
func inputPath(c *cli.Context, cfg *config.Config) (string, error) {
	if in := c.String("in"); in != "" {
		return in, nil
	}
	dir := c.String("dir")
	if dir == "" {
		dir = cfg.WatchDir
	}
	path, _, err := source.LatestCSV(dir)
	if err != nil {
		return "", err
	}
	appLog.Info("using newest export", "path", path)
	return path, nil
}

func loadSnapshot(c *cli.Context) (*config.Config, *store.Snapshot, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	path, err := inputPath(c, cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(cfg.Mapping, nil)
	if err != nil {
		return nil, nil, err
	}
	snap, err := st.LoadFile(path, cfg.InputEncoding)
	if err != nil {
		return nil, nil, err
	}
	return cfg, snap, nil
}

// writeOutput writes body to path, or to stdout when path is "-".
func writeOutput(c *cli.Context, path string, body []byte) error {
	if path == "-" {
		_, err := c.App.Writer.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}
	appLog.Info("wrote output", "path", path, "bytes", len(body))
	return nil
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert one export to events (json, csv or ics).",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "out", Value: "events.json", Usage: `output file, "-" for stdout`},
			&cli.StringFlag{Name: "format", Value: "json", Usage: "json, csv or ics"},
		}, inputFlags()...),
		Action: func(c *cli.Context) error {
			cfg, snap, err := loadSnapshot(c)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			switch strings.ToLower(c.String("format")) {
			case "json":
				err = report.WriteJSON(&buf, snap.Events())
			case "csv":
				err = report.WriteCSV(&buf, snap.Events())
			case "ics":
				loc, lerr := time.LoadLocation(cfg.Timezone)
				if lerr != nil {
					return fmt.Errorf("timezone %q: %w", cfg.Timezone, lerr)
				}
				res := ics.Build(snap.Events(), loc, "施設予約")
				buf.WriteString(res.Body)
			default:
				return fmt.Errorf("unknown format %q", c.String("format"))
			}
			if err != nil {
				return err
			}
			return writeOutput(c, c.String("out"), buf.Bytes())
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the weekly report (pdf or xlsx) for one export.",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "output file (default 施設予約表_YYYYMMDD.<format>)"},
			&cli.StringFlag{Name: "format", Value: "pdf", Usage: "pdf or xlsx"},
		}, inputFlags()...),
		Action: func(c *cli.Context) error {
			cfg, snap, err := loadSnapshot(c)
			if err != nil {
				return err
			}
			opts := report.Options{
				Mapping:    snap.Mapping,
				Colors:     snap.Colors,
				MaxPerCell: cfg.Report.MaxEventsPerCell,
				Width:      cfg.Report.Width,
			}

			now := time.Now()
			out := c.String("out")
			var buf bytes.Buffer
			switch strings.ToLower(c.String("format")) {
			case "pdf":
				if out == "" {
					out = report.PDFFilename(now)
				}
				raster := capture.NewChromium(cfg.Report.Width, cfg.Report.Height, time.Duration(cfg.Report.TimeoutSec)*time.Second)
				err = report.WeeklyPDF(c.Context, &buf, snap.Weeks, opts, raster)
			case "xlsx":
				if out == "" {
					out = report.XLSXFilename(now)
				}
				err = report.WeeklyXLSX(&buf, snap.Weeks, opts)
			default:
				return fmt.Errorf("unknown format %q", c.String("format"))
			}
			if err != nil {
				return err
			}
			return writeOutput(c, out, buf.Bytes())
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the booking views and API, reloading the watch directory on a schedule.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				cfg.Listen = l
			}

			appLog.Info("effective config",
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"watch_dir", cfg.WatchDir,
				"refresh", cfg.RefreshCron,
				"input_encoding", cfg.InputEncoding,
				"facilities", len(cfg.Mapping.Facilities),
				"output_path", cfg.OutputPath,
			)

			st, err := store.New(cfg.Mapping, nil)
			if err != nil {
				return err
			}
			if cfg.OutputPath != "" {
				out := cfg.OutputPath
				st.OnLoad(func(snap *store.Snapshot) {
					if err := writeEventsFile(out, snap); err != nil {
						appLog.Error("failed to write events file", err, "path", out)
					}
				})
			}

			watcher := newDirWatcher(cfg.WatchDir, cfg.InputEncoding, st)
			watcher.run()

			sched := cron.New()
			if _, err := sched.AddFunc(cfg.RefreshCron, watcher.run); err != nil {
				return fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshCron, err)
			}
			sched.Start()
			defer func() { <-sched.Stop().Done() }()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			raster := capture.NewChromium(cfg.Report.Width, cfg.Report.Height, time.Duration(cfg.Report.TimeoutSec)*time.Second)
			srv := web.NewServer(cfg, c.String("config"), st, raster)
			err = srv.ListenAndServe(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			appLog.Info("easybook exiting")
			return nil
		},
	}
}
