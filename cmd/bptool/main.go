package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bplog/internal/app"
	"bplog/internal/config"
	"bplog/internal/db"
	"bplog/internal/logging"
	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/repository"
	"bplog/internal/modules/pressure/types"
	"bplog/internal/mqtt"
)

var version = "dev"

const usage = `usage: %s <command> [flags]
  migrate                 apply pending SQLite migrations
  convert -tz ZONE        rewrite stored timestamps into ZONE wall time (backs up first)
  import                  copy BP_DATA_FILE into the SQLite store
  days [-n N]             print the first N grouped days
  publish SYS DIA PULSE   publish one measurement to MQTT_TOPIC
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg, version, "bptool")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "migrate":
		err = runMigrate(ctx, cfg, logger, os.Stdout)
	case "convert":
		err = runConvert(ctx, cfg, logger, args, os.Stdout)
	case "import":
		err = runImport(ctx, cfg, logger, os.Stdout)
	case "days":
		err = runDays(ctx, cfg, logger, args, os.Stdout)
	case "publish":
		err = runPublish(ctx, cfg, args, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runMigrate(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	conn, err := app.OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(conn); err != nil {
			logger.Error("db close", "error", err)
		}
	}()
	fmt.Fprintln(out, "migrations applied")
	return nil
}

func runConvert(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	zone := fs.String("tz", "", "target IANA zone, e.g. Asia/Shanghai")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *zone == "" {
		return fmt.Errorf("-tz is required")
	}
	loc, err := time.LoadLocation(*zone)
	if err != nil {
		return fmt.Errorf("zone %q: %w", *zone, err)
	}

	repo, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rs, err := repo.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read readings: %w", err)
	}
	backup, err := repo.Replace(ctx, convertZone(rs, loc))
	if err != nil {
		return fmt.Errorf("replace readings: %w", err)
	}
	fmt.Fprintf(out, "converted %d readings to %s (backup: %s)\n", len(rs), loc, backup)
	return nil
}

// convertZone moves every reading to loc wall time. Instants are unchanged.
func convertZone(rs []types.Reading, loc *time.Location) []types.Reading {
	out := make([]types.Reading, len(rs))
	for i, r := range rs {
		r.Time = r.Time.In(loc)
		r.LocalTZ = loc.String()
		out[i] = r
	}
	return out
}

func runImport(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	src, err := repository.NewFileRepository(cfg.DataFile, logger)
	if err != nil {
		return err
	}
	conn, err := app.OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(conn); err != nil {
			logger.Error("db close", "error", err)
		}
	}()

	added, skipped, err := importReadings(ctx, src, repository.NewSQLiteRepository(conn, logger))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d readings from %s (%d already present)\n", added, cfg.DataFile, skipped)
	return nil
}

// importReadings appends every reading of src missing from dst, matching on
// the instant so a second run adds nothing.
func importReadings(ctx context.Context, src, dst repository.ReadingRepository) (added, skipped int, err error) {
	have, err := dst.ReadAll(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read destination: %w", err)
	}
	seen := make(map[string]bool, len(have))
	for _, r := range have {
		seen[r.Key()] = true
	}

	rs, err := src.ReadAll(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read source: %w", err)
	}
	for _, r := range rs {
		if seen[r.Key()] {
			skipped++
			continue
		}
		if err := dst.Append(ctx, r); err != nil {
			return added, skipped, err
		}
		seen[r.Key()] = true
		added++
	}
	return added, skipped, nil
}

func runDays(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("days", flag.ContinueOnError)
	n := fs.Int("n", 10, "number of days to print, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repo, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rs, err := repo.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read readings: %w", err)
	}
	zone := readings.Zone{Fixed: cfg.GroupTZ, Fallback: cfg.InputTZ}
	return printDays(out, readings.GroupByDay(rs, zone), zone, *n)
}

func printDays(w io.Writer, days []types.Day, zone readings.Zone, n int) error {
	if n > 0 && n < len(days) {
		days = days[:n]
	}
	if _, err := fmt.Fprintf(w, "%-12s %-8s %-9s %-8s %-9s\n", "Date", "Morning", "BP", "Evening", "BP"); err != nil {
		return err
	}
	for _, d := range days {
		mt, mbp := slotColumns(d.Morning, zone)
		et, ebp := slotColumns(d.Evening, zone)
		if _, err := fmt.Fprintf(w, "%-12s %-8s %-9s %-8s %-9s\n", d.Date, mt, mbp, et, ebp); err != nil {
			return err
		}
	}
	return nil
}

func slotColumns(r *types.Reading, zone readings.Zone) (clock, bp string) {
	if r == nil {
		return "N/A", "N/A"
	}
	return zone.WallClock(*r).Format("15:04"), fmt.Sprintf("%d/%d", r.Systolic, r.Diastolic)
}

func runPublish(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	m, err := parseMeasurement(args)
	if err != nil {
		return err
	}
	m.Timestamp = time.Now().In(cfg.InputTZ).Truncate(time.Second)

	pub, err := mqtt.NewPublisher(cfg, cfg.MQTTClientID+"-bptool")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := pub.Connect(ctx); err != nil {
		return err
	}
	defer pub.Close()

	if err := pub.Publish(ctx, m); err != nil {
		return err
	}
	fmt.Fprintf(out, "published %d/%d pulse %d to %s\n", m.Systolic, m.Diastolic, m.Pulse, cfg.MQTTTopic)
	return nil
}

func parseMeasurement(args []string) (mqtt.Measurement, error) {
	if len(args) != 3 {
		return mqtt.Measurement{}, fmt.Errorf("want SYS DIA PULSE, got %d arguments", len(args))
	}
	var vals [3]int
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return mqtt.Measurement{}, fmt.Errorf("argument %d %q: not an integer", i+1, a)
		}
		vals[i] = v
	}
	if err := readings.Validate(vals[0], vals[1], vals[2]); err != nil {
		return mqtt.Measurement{}, err
	}
	return mqtt.Measurement{Systolic: vals[0], Diastolic: vals[1], Pulse: vals[2]}, nil
}
