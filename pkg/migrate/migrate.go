package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source locates goose SQL migrations, either compiled into the binary or
// on local disk.
type Source struct {
	Dir      string
	Embedded bool
}

// EmbeddedSource is what services auto-migrate from.
func EmbeddedSource() Source { return Source{Dir: "migrations", Embedded: true} }

// DiskSource reads migrations from dir, used by the migrate CLI.
func DiskSource(dir string) Source { return Source{Dir: dir} }

// FS returns the migration files rooted at the source directory.
func (s Source) FS() (fs.FS, error) {
	if s.Dir == "" {
		return nil, fmt.Errorf("migration dir is required")
	}
	if s.Embedded {
		return fs.Sub(embedded, s.Dir)
	}
	if _, err := os.Stat(s.Dir); err != nil {
		return nil, fmt.Errorf("migration dir %q: %w", s.Dir, err)
	}
	return os.DirFS(s.Dir), nil
}

// Command is a migrate CLI verb that needs a database.
type Command string

const (
	CommandUp      Command = "up"
	CommandDown    Command = "down"
	CommandRedo    Command = "redo"
	CommandStatus  Command = "status"
	CommandVersion Command = "version"
)

func ParseCommand(value string) (Command, error) {
	switch cmd := Command(value); cmd {
	case CommandUp, CommandDown, CommandRedo, CommandStatus, CommandVersion:
		return cmd, nil
	default:
		return "", fmt.Errorf("unknown migrate command %q", value)
	}
}

// ParseVersion accepts the YYYYMMDDHHMMSS prefix of a migration file.
func ParseVersion(value string) (int64, error) {
	if len(value) != 14 {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", value)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", value)
	}
	return v, nil
}

// Runner applies migrations from one Source against postgres.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func NewRunner(db *sql.DB, src Source, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	fsys, err := src.FS()
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Exec dispatches a parsed command. target is only read by CommandVersion.
func (r *Runner) Exec(ctx context.Context, cmd Command, target int64) error {
	switch cmd {
	case CommandUp:
		return r.Up(ctx)
	case CommandDown:
		return r.Down(ctx)
	case CommandRedo:
		if err := r.Down(ctx); err != nil {
			return err
		}
		return r.Up(ctx)
	case CommandStatus:
		return r.Status(ctx)
	case CommandVersion:
		return r.To(ctx, target)
	default:
		return fmt.Errorf("unknown migrate command %q", cmd)
	}
}

func (r *Runner) Up(ctx context.Context) error {
	results, err := r.provider.Up(ctx)
	r.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	if len(results) == 0 {
		r.logg.Info(ctx, "schema already up to date")
	}
	return nil
}

func (r *Runner) Down(ctx context.Context) error {
	result, err := r.provider.Down(ctx)
	r.report(ctx, result)
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// To moves the schema up or down until target is the newest applied version.
func (r *Runner) To(ctx context.Context, target int64) error {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		r.logg.Info(ctx, fmt.Sprintf("schema already at version %d", target))
		return nil
	case current < target:
		results, err = r.provider.UpTo(ctx, target)
	default:
		results, err = r.provider.DownTo(ctx, target)
	}
	r.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func (r *Runner) Status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	for _, st := range statuses {
		fields := map[string]any{
			"version": st.Source.Version,
			"file":    st.Source.Path,
			"state":   string(st.State),
		}
		if !st.AppliedAt.IsZero() {
			fields["appliedAt"] = st.AppliedAt
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "migration")
	}
	return nil
}

func (r *Runner) report(ctx context.Context, results ...*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		stepCtx := r.logg.WithFields(ctx, map[string]any{
			"version":    res.Source.Version,
			"file":       res.Source.Path,
			"direction":  res.Direction,
			"durationMs": res.Duration.Milliseconds(),
		})
		if res.Error != nil {
			r.logg.Error(stepCtx, "migration failed", res.Error)
			continue
		}
		r.logg.Info(stepCtx, "migration applied")
	}
}
