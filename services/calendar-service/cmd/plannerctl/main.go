// Command plannerctl is the operator tool for the calendar service: schema migrations, user
// seeding, offline window math and calendar reads against a running instance.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/md-rashed-zaman/planner/libs/auth"
	"github.com/md-rashed-zaman/planner/libs/config"
	"github.com/md-rashed-zaman/planner/libs/db"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/window"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = config.LoadDotEnv()

	app := &cli.App{
		Name:  "plannerctl",
		Usage: "Operate a calendar-service deployment.",
		Commands: []*cli.Command{
			migrateCommand(),
			seedUserCommand(),
			windowCommand(),
			calendarCommand(),
			createBlockCommand(),
			tokenCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("plannerctl failed", "err", err)
		os.Exit(1)
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "driver", Value: config.String("STORE_DRIVER", "sqlite"), Usage: "postgres or sqlite"},
		&cli.StringFlag{Name: "database-url", Value: config.String("DATABASE_URL", ""), Usage: "postgres connection string"},
		&cli.StringFlag{Name: "sqlite-path", Value: config.String("SQLITE_PATH", "calendar.db"), Usage: "sqlite database file"},
	}
}

type migratingStore interface {
	storage.Store
	Migrate(ctx context.Context) error
}

func openStore(c *cli.Context) (migratingStore, error) {
	switch driver := strings.ToLower(c.String("driver")); driver {
	case "postgres", "postgresql":
		if c.String("database-url") == "" {
			return nil, fmt.Errorf("--database-url is required for postgres")
		}
		pool, err := db.Open(c.Context, c.String("database-url"), db.Options{MaxConns: 2})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return storage.NewPostgresStore(pool), nil
	case "sqlite":
		store, err := storage.OpenSQLite(c.Context, c.String("sqlite-path"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the embedded calendar schema.",
		Flags: storeFlags(),
		Action: func(c *cli.Context) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "schema up to date")
			return nil
		},
	}
}

func seedUserCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed-user",
		Usage: "Create or update a user record.",
		Flags: append(storeFlags(),
			&cli.StringFlag{Name: "id", Required: true},
			&cli.StringFlag{Name: "name"},
			&cli.StringFlag{Name: "email"},
			&cli.StringFlag{Name: "tz", Value: "UTC", Usage: "IANA timezone"},
		),
		Action: func(c *cli.Context) error {
			if _, err := time.LoadLocation(c.String("tz")); err != nil {
				return fmt.Errorf("invalid --tz: %w", err)
			}
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()
			name := c.String("name")
			if name == "" {
				name = c.String("id")
			}
			u, err := store.CreateUser(c.Context, model.User{
				ID:          c.String("id"),
				DisplayName: name,
				Email:       c.String("email"),
				Timezone:    c.String("tz"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "user %s (%s, %s)\n", u.ID, u.DisplayName, u.Timezone)
			return nil
		},
	}
}

func windowCommand() *cli.Command {
	return &cli.Command{
		Name:  "window",
		Usage: "Print the date range of a calendar view, with the grid for month views.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "view", Value: "week"},
			&cli.StringFlag{Name: "date", Usage: "reference date YYYY-MM-DD, default today"},
			&cli.StringFlag{Name: "tz", Value: "UTC"},
		},
		Action: func(c *cli.Context) error {
			view, err := window.ParseView(c.String("view"))
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(c.String("tz"))
			if err != nil {
				return fmt.Errorf("invalid --tz: %w", err)
			}
			ref := time.Now().In(loc)
			if raw := c.String("date"); raw != "" {
				if ref, err = time.ParseInLocation("2006-01-02", raw, loc); err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}
			printWindow(c.App.Writer, window.For(view, ref))
			return nil
		},
	}
}

func printWindow(w io.Writer, cw window.CalendarWindow) {
	fmt.Fprintf(w, "%s view: %s .. %s\n", cw.View, cw.StartDate.Format("2006-01-02"), cw.EndDate.Format("2006-01-02"))
	if cw.View != window.Month {
		return
	}
	fmt.Fprintln(w, " Su Mo Tu We Th Fr Sa")
	for _, week := range window.WeeksInMonth(cw.ReferenceDate.Year(), cw.ReferenceDate.Month(), cw.ReferenceDate.Location()) {
		var row strings.Builder
		for _, d := range week {
			if d.Month() != cw.ReferenceDate.Month() {
				row.WriteString("   ")
				continue
			}
			fmt.Fprintf(&row, " %2d", d.Day())
		}
		fmt.Fprintln(w, row.String())
	}
}

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "base-url", Value: config.String("CALENDAR_URL", "http://localhost:8085")},
		&cli.StringFlag{Name: "as", Usage: "caller user id sent as X-User-Id"},
		&cli.StringFlag{Name: "token", Value: config.String("CALENDAR_TOKEN", ""), Usage: "bearer token"},
		&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
	}
}

func calendarCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendar",
		Usage: "Fetch one calendar page from a running service.",
		Flags: append(clientFlags(),
			&cli.StringSliceFlag{Name: "user", Usage: "user id, repeatable"},
			&cli.StringFlag{Name: "start"},
			&cli.StringFlag{Name: "end"},
			&cli.StringFlag{Name: "view"},
			&cli.StringFlag{Name: "date"},
			&cli.StringFlag{Name: "search"},
			&cli.IntFlag{Name: "page", Value: 1},
			&cli.IntFlag{Name: "limit", Value: 20},
		),
		Action: func(c *cli.Context) error {
			client := newClient(c.String("base-url"), c.String("as"), c.String("token"), c.Duration("timeout"))
			cal, err := client.Calendar(c.Context, calendarParams{
				UserIDs: c.StringSlice("user"),
				Start:   c.String("start"),
				End:     c.String("end"),
				View:    c.String("view"),
				Date:    c.String("date"),
				Search:  c.String("search"),
				Page:    c.Int("page"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return err
			}
			printCalendar(c.App.Writer, cal)
			return nil
		},
	}
}

func printCalendar(w io.Writer, cal calendarPage) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tOWNER\tTITLE")
	for _, iv := range cal.TimeBlocks.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", iv.StartTime.Format(time.RFC3339), iv.EndTime.Format(time.RFC3339), iv.OwnerID, iv.Title)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "page %d/%d, %d blocks, %d availability windows\n",
		cal.TimeBlocks.Page, cal.TimeBlocks.TotalPages, cal.TimeBlocks.Total, len(cal.Availability))
}

func createBlockCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-block",
		Usage: "Create a time block through a running service.",
		Flags: append(clientFlags(),
			&cli.StringFlag{Name: "start", Required: true, Usage: "RFC 3339"},
			&cli.StringFlag{Name: "end", Required: true, Usage: "RFC 3339"},
			&cli.StringFlag{Name: "title"},
		),
		Action: func(c *cli.Context) error {
			if c.String("as") == "" && c.String("token") == "" {
				return fmt.Errorf("--as or --token is required")
			}
			client := newClient(c.String("base-url"), c.String("as"), c.String("token"), c.Duration("timeout"))
			iv, err := client.CreateTimeBlock(c.Context, c.String("start"), c.String("end"), c.String("title"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "created %s v%d %s..%s\n", iv.ID, iv.Version, iv.StartTime.Format(time.RFC3339), iv.EndTime.Format(time.RFC3339))
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an HS256 bearer token for a user (local setups).",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sub", Required: true, Usage: "user id"},
			&cli.StringFlag{Name: "secret", Value: config.String("JWT_SECRET", "")},
			&cli.DurationFlag{Name: "ttl", Value: 12 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			if c.String("secret") == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			now := time.Now()
			token, err := auth.SignHS256(auth.Claims{
				Sub: c.String("sub"),
				Iat: now.Unix(),
				Exp: now.Add(c.Duration("ttl")).Unix(),
			}, c.String("secret"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}
