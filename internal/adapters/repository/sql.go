package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/pkg/metrics"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	driver   string
	idColumn string
	numbered bool // $1, $2 placeholders instead of ?
}

var dialects = map[string]dialect{
	DriverPostgres: {driver: DriverPostgres, idColumn: "SERIAL PRIMARY KEY", numbered: true},
	DriverSQLite:   {driver: DriverSQLite, idColumn: "INTEGER PRIMARY KEY AUTOINCREMENT"},
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is a Store over database/sql. Postgres is served by lib/pq and
// sqlite by modernc.org/sqlite.
type SQLStore struct {
	db           *sql.DB
	dialect      dialect
	maxOpenConns int
	migrate      bool
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore opens dsn with driver, checks connectivity and creates the
// schema unless disabled.
func NewSQLStore(ctx context.Context, driver, dsn string, opts ...SQLOption) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	s := &SQLStore{dialect: d, migrate: true}
	if driver == DriverSQLite {
		// Every connection to an in-memory sqlite database sees its own copy.
		s.maxOpenConns = 1
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if s.maxOpenConns > 0 {
		db.SetMaxOpenConns(s.maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s.db = db

	if s.migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates any missing table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func schema(d dialect) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS teams (
			id %s,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			forum_link TEXT NOT NULL DEFAULT ''
		)`, d.idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS hardware (
			id %s,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			make TEXT NOT NULL,
			type TEXT NOT NULL,
			multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
			average_ppd DOUBLE PRECISION NOT NULL DEFAULT 0
		)`, d.idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			folding_user_name TEXT NOT NULL,
			display_name TEXT NOT NULL,
			passkey TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			profile_link TEXT NOT NULL DEFAULT '',
			live_stats_link TEXT NOT NULL DEFAULT '',
			is_captain BOOLEAN NOT NULL DEFAULT FALSE,
			team_id INTEGER NOT NULL,
			hardware_id INTEGER NOT NULL
		)`, d.idColumn),
		`CREATE TABLE IF NOT EXISTS retired_users (
			id TEXT PRIMARY KEY,
			team_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			display_name TEXT NOT NULL,
			category TEXT NOT NULL,
			hardware_name TEXT NOT NULL,
			points BIGINT NOT NULL,
			multiplied_points BIGINT NOT NULL,
			units BIGINT NOT NULL,
			retired_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			user_id INTEGER PRIMARY KEY,
			raw_points BIGINT NOT NULL,
			raw_units BIGINT NOT NULL,
			baseline_points BIGINT NOT NULL,
			baseline_units BIGINT NOT NULL,
			offset_points BIGINT NOT NULL,
			offset_multiplied_points BIGINT NOT NULL,
			offset_units BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monthly_results (
			year INTEGER NOT NULL,
			month INTEGER NOT NULL,
			teams TEXT NOT NULL,
			categories TEXT NOT NULL,
			saved_at BIGINT NOT NULL,
			PRIMARY KEY (year, month)
		)`,
		`CREATE TABLE IF NOT EXISTS user_changes (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			prev_folding_user_name TEXT NOT NULL,
			prev_passkey TEXT NOT NULL,
			prev_live_stats_link TEXT NOT NULL,
			prev_hardware_id INTEGER NOT NULL,
			prev_team_id INTEGER NOT NULL,
			req_folding_user_name TEXT NOT NULL,
			req_passkey TEXT NOT NULL,
			req_live_stats_link TEXT NOT NULL,
			req_hardware_id INTEGER NOT NULL,
			req_team_id INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			applied_at BIGINT NOT NULL
		)`,
	}
}

// observe records the outcome of one store operation.
func (s *SQLStore) observe(op string, start time.Time, err error) {
	metrics.RecordStoreOperation(s.dialect.driver, op, time.Since(start), err)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	return res, s.translate(err)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	return rows, s.translate(err)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// translate maps unique-constraint violations of either driver to ErrConflict.
func (s *SQLStore) translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")) {
			return fmt.Errorf("%w: %s", ErrConflict, liteErr.Error())
		}
	}
	return err
}

// mustAffect turns an update or delete that matched nothing into ErrNotFound.
func mustAffect(res sql.Result, what string, key any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, what, key)
	}
	return nil
}

func notFound(err error, what string, key any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", ErrNotFound, what, key)
	}
	return err
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

// Teams.

const teamColumns = `id, name, description, forum_link`

func scanTeam(sc scanner) (model.Team, error) {
	var t model.Team
	err := sc.Scan(&t.ID, &t.Name, &t.Description, &t.ForumLink)
	return t, err
}

func (s *SQLStore) CreateTeam(ctx context.Context, t model.Team) (_ model.Team, err error) {
	defer func(start time.Time) { s.observe("create_team", start, err) }(time.Now())

	err = s.queryRow(ctx,
		`INSERT INTO teams (name, description, forum_link) VALUES (?, ?, ?) RETURNING id`,
		t.Name, t.Description, t.ForumLink,
	).Scan(&t.ID)
	if err != nil {
		return model.Team{}, s.translate(err)
	}
	return t, nil
}

func (s *SQLStore) UpdateTeam(ctx context.Context, t model.Team) (err error) {
	defer func(start time.Time) { s.observe("update_team", start, err) }(time.Now())

	res, err := s.exec(ctx,
		`UPDATE teams SET name = ?, description = ?, forum_link = ? WHERE id = ?`,
		t.Name, t.Description, t.ForumLink, t.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res, "team", t.ID)
}

func (s *SQLStore) DeleteTeam(ctx context.Context, id int) (err error) {
	defer func(start time.Time) { s.observe("delete_team", start, err) }(time.Now())

	res, err := s.exec(ctx, `DELETE FROM teams WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "team", id)
}

func (s *SQLStore) GetTeam(ctx context.Context, id int) (_ model.Team, err error) {
	defer func(start time.Time) { s.observe("get_team", start, err) }(time.Now())

	t, err := scanTeam(s.queryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = ?`, id))
	if err != nil {
		return model.Team{}, notFound(err, "team", id)
	}
	return t, nil
}

func (s *SQLStore) ListTeams(ctx context.Context) (_ []model.Team, err error) {
	defer func(start time.Time) { s.observe("list_teams", start, err) }(time.Now())

	rows, err := s.query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Hardware.

const hardwareColumns = `id, name, display_name, make, type, multiplier, average_ppd`

func scanHardware(sc scanner) (model.Hardware, error) {
	var h model.Hardware
	err := sc.Scan(&h.ID, &h.Name, &h.DisplayName, &h.Make, &h.Type, &h.Multiplier, &h.AveragePPD)
	return h, err
}

func (s *SQLStore) CreateHardware(ctx context.Context, h model.Hardware) (_ model.Hardware, err error) {
	defer func(start time.Time) { s.observe("create_hardware", start, err) }(time.Now())

	err = s.queryRow(ctx,
		`INSERT INTO hardware (name, display_name, make, type, multiplier, average_ppd)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		h.Name, h.DisplayName, string(h.Make), string(h.Type), h.Multiplier, h.AveragePPD,
	).Scan(&h.ID)
	if err != nil {
		return model.Hardware{}, s.translate(err)
	}
	return h, nil
}

func (s *SQLStore) UpdateHardware(ctx context.Context, h model.Hardware) (err error) {
	defer func(start time.Time) { s.observe("update_hardware", start, err) }(time.Now())

	res, err := s.exec(ctx,
		`UPDATE hardware SET name = ?, display_name = ?, make = ?, type = ?, multiplier = ?, average_ppd = ?
		 WHERE id = ?`,
		h.Name, h.DisplayName, string(h.Make), string(h.Type), h.Multiplier, h.AveragePPD, h.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res, "hardware", h.ID)
}

func (s *SQLStore) DeleteHardware(ctx context.Context, id int) (err error) {
	defer func(start time.Time) { s.observe("delete_hardware", start, err) }(time.Now())

	res, err := s.exec(ctx, `DELETE FROM hardware WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "hardware", id)
}

func (s *SQLStore) GetHardware(ctx context.Context, id int) (_ model.Hardware, err error) {
	defer func(start time.Time) { s.observe("get_hardware", start, err) }(time.Now())

	h, err := scanHardware(s.queryRow(ctx, `SELECT `+hardwareColumns+` FROM hardware WHERE id = ?`, id))
	if err != nil {
		return model.Hardware{}, notFound(err, "hardware", id)
	}
	return h, nil
}

func (s *SQLStore) ListHardware(ctx context.Context) (_ []model.Hardware, err error) {
	defer func(start time.Time) { s.observe("list_hardware", start, err) }(time.Now())

	rows, err := s.query(ctx, `SELECT `+hardwareColumns+` FROM hardware ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Hardware
	for rows.Next() {
		h, err := scanHardware(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Users.

const userColumns = `id, folding_user_name, display_name, passkey, category, profile_link,
	live_stats_link, is_captain, team_id, hardware_id`

func scanUser(sc scanner) (model.User, error) {
	var u model.User
	err := sc.Scan(&u.ID, &u.FoldingUserName, &u.DisplayName, &u.Passkey, &u.Category,
		&u.ProfileLink, &u.LiveStatsLink, &u.IsCaptain, &u.TeamID, &u.HardwareID)
	return u, err
}

func (s *SQLStore) CreateUser(ctx context.Context, u model.User) (_ model.User, err error) {
	defer func(start time.Time) { s.observe("create_user", start, err) }(time.Now())

	err = s.queryRow(ctx,
		`INSERT INTO users (folding_user_name, display_name, passkey, category, profile_link,
			live_stats_link, is_captain, team_id, hardware_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		u.FoldingUserName, u.DisplayName, u.Passkey, string(u.Category), u.ProfileLink,
		u.LiveStatsLink, u.IsCaptain, u.TeamID, u.HardwareID,
	).Scan(&u.ID)
	if err != nil {
		return model.User{}, s.translate(err)
	}
	return u, nil
}

func (s *SQLStore) UpdateUser(ctx context.Context, u model.User) (err error) {
	defer func(start time.Time) { s.observe("update_user", start, err) }(time.Now())

	res, err := s.exec(ctx,
		`UPDATE users SET folding_user_name = ?, display_name = ?, passkey = ?, category = ?,
			profile_link = ?, live_stats_link = ?, is_captain = ?, team_id = ?, hardware_id = ?
		 WHERE id = ?`,
		u.FoldingUserName, u.DisplayName, u.Passkey, string(u.Category), u.ProfileLink,
		u.LiveStatsLink, u.IsCaptain, u.TeamID, u.HardwareID, u.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res, "user", u.ID)
}

func (s *SQLStore) DeleteUser(ctx context.Context, id int) (err error) {
	defer func(start time.Time) { s.observe("delete_user", start, err) }(time.Now())

	res, err := s.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "user", id)
}

func (s *SQLStore) GetUser(ctx context.Context, id int) (_ model.User, err error) {
	defer func(start time.Time) { s.observe("get_user", start, err) }(time.Now())

	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return model.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (s *SQLStore) ListUsers(ctx context.Context) (_ []model.User, err error) {
	defer func(start time.Time) { s.observe("list_users", start, err) }(time.Now())

	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Retired users.

func (s *SQLStore) CreateRetiredUser(ctx context.Context, r model.RetiredUserSummary) (err error) {
	defer func(start time.Time) { s.observe("create_retired_user", start, err) }(time.Now())

	_, err = s.exec(ctx,
		`INSERT INTO retired_users (id, team_id, user_id, display_name, category, hardware_name,
			points, multiplied_points, units, retired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TeamID, r.UserID, r.DisplayName, string(r.Category), r.HardwareName,
		r.Points, r.MultipliedPoints, r.Units, toNanos(r.RetiredAt),
	)
	return err
}

func (s *SQLStore) ListRetiredUsers(ctx context.Context) (_ []model.RetiredUserSummary, err error) {
	defer func(start time.Time) { s.observe("list_retired_users", start, err) }(time.Now())

	rows, err := s.query(ctx,
		`SELECT id, team_id, user_id, display_name, category, hardware_name,
			points, multiplied_points, units, retired_at
		 FROM retired_users ORDER BY retired_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RetiredUserSummary
	for rows.Next() {
		var (
			r         model.RetiredUserSummary
			retiredAt int64
		)
		if err := rows.Scan(&r.ID, &r.TeamID, &r.UserID, &r.DisplayName, &r.Category, &r.HardwareName,
			&r.Points, &r.MultipliedPoints, &r.Units, &retiredAt); err != nil {
			return nil, err
		}
		r.RetiredAt = fromNanos(retiredAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteRetiredUsers(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("delete_retired_users", start, err) }(time.Now())

	_, err = s.exec(ctx, `DELETE FROM retired_users`)
	return err
}

// Ledger.

func (s *SQLStore) SaveLedgerEntry(ctx context.Context, e model.LedgerEntry) (err error) {
	defer func(start time.Time) { s.observe("save_ledger_entry", start, err) }(time.Now())

	_, err = s.exec(ctx,
		`INSERT INTO ledger_entries (user_id, raw_points, raw_units, baseline_points, baseline_units,
			offset_points, offset_multiplied_points, offset_units)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			raw_points = excluded.raw_points,
			raw_units = excluded.raw_units,
			baseline_points = excluded.baseline_points,
			baseline_units = excluded.baseline_units,
			offset_points = excluded.offset_points,
			offset_multiplied_points = excluded.offset_multiplied_points,
			offset_units = excluded.offset_units`,
		e.UserID, e.Raw.Points, e.Raw.Units, e.Baseline.Points, e.Baseline.Units,
		e.Offset.Points, e.Offset.MultipliedPoints, e.Offset.Units,
	)
	return err
}

func (s *SQLStore) DeleteLedgerEntry(ctx context.Context, userID int) (err error) {
	defer func(start time.Time) { s.observe("delete_ledger_entry", start, err) }(time.Now())

	_, err = s.exec(ctx, `DELETE FROM ledger_entries WHERE user_id = ?`, userID)
	return err
}

func (s *SQLStore) ListLedgerEntries(ctx context.Context) (_ []model.LedgerEntry, err error) {
	defer func(start time.Time) { s.observe("list_ledger_entries", start, err) }(time.Now())

	rows, err := s.query(ctx,
		`SELECT user_id, raw_points, raw_units, baseline_points, baseline_units,
			offset_points, offset_multiplied_points, offset_units
		 FROM ledger_entries ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.UserID, &e.Raw.Points, &e.Raw.Units, &e.Baseline.Points, &e.Baseline.Units,
			&e.Offset.Points, &e.Offset.MultipliedPoints, &e.Offset.Units); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Monthly results.

func (s *SQLStore) SaveMonthlyResult(ctx context.Context, r model.MonthlyResult) (err error) {
	defer func(start time.Time) { s.observe("save_monthly_result", start, err) }(time.Now())

	if r.Month < time.January || r.Month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalidMonthResult, r.Month)
	}
	teams, err := json.Marshal(r.Teams)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMonthResult, err)
	}
	categories, err := json.Marshal(r.Categories)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMonthResult, err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO monthly_results (year, month, teams, categories, saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (year, month) DO UPDATE SET
			teams = excluded.teams,
			categories = excluded.categories,
			saved_at = excluded.saved_at`,
		r.Year, int(r.Month), string(teams), string(categories), toNanos(r.SavedAt),
	)
	return err
}

func scanMonthlyResult(sc scanner) (model.MonthlyResult, error) {
	var (
		r                 model.MonthlyResult
		month             int
		teams, categories string
		savedAt           int64
	)
	if err := sc.Scan(&r.Year, &month, &teams, &categories, &savedAt); err != nil {
		return model.MonthlyResult{}, err
	}
	r.Month = time.Month(month)
	r.SavedAt = fromNanos(savedAt)
	if err := json.Unmarshal([]byte(teams), &r.Teams); err != nil {
		return model.MonthlyResult{}, fmt.Errorf("%w: teams: %w", ErrInvalidMonthResult, err)
	}
	if err := json.Unmarshal([]byte(categories), &r.Categories); err != nil {
		return model.MonthlyResult{}, fmt.Errorf("%w: categories: %w", ErrInvalidMonthResult, err)
	}
	return r, nil
}

func (s *SQLStore) GetMonthlyResult(ctx context.Context, year int, month time.Month) (_ model.MonthlyResult, err error) {
	defer func(start time.Time) { s.observe("get_monthly_result", start, err) }(time.Now())

	r, err := scanMonthlyResult(s.queryRow(ctx,
		`SELECT year, month, teams, categories, saved_at FROM monthly_results WHERE year = ? AND month = ?`,
		year, int(month)))
	if err != nil {
		return model.MonthlyResult{}, notFound(err, "result", fmt.Sprintf("%04d-%02d", year, int(month)))
	}
	return r, nil
}

func (s *SQLStore) ListMonthlyResults(ctx context.Context) (_ []model.MonthlyResult, err error) {
	defer func(start time.Time) { s.observe("list_monthly_results", start, err) }(time.Now())

	rows, err := s.query(ctx,
		`SELECT year, month, teams, categories, saved_at FROM monthly_results ORDER BY year, month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MonthlyResult
	for rows.Next() {
		r, err := scanMonthlyResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// User changes.

const changeColumns = `id, user_id,
	prev_folding_user_name, prev_passkey, prev_live_stats_link, prev_hardware_id, prev_team_id,
	req_folding_user_name, req_passkey, req_live_stats_link, req_hardware_id, req_team_id,
	state, created_at, updated_at, applied_at`

func scanChange(sc scanner) (model.UserChange, error) {
	var (
		c                             model.UserChange
		createdAt, updatedAt, applied int64
	)
	err := sc.Scan(&c.ID, &c.UserID,
		&c.Previous.FoldingUserName, &c.Previous.Passkey, &c.Previous.LiveStatsLink,
		&c.Previous.HardwareID, &c.Previous.TeamID,
		&c.Requested.FoldingUserName, &c.Requested.Passkey, &c.Requested.LiveStatsLink,
		&c.Requested.HardwareID, &c.Requested.TeamID,
		&c.State, &createdAt, &updatedAt, &applied)
	if err != nil {
		return model.UserChange{}, err
	}
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	c.AppliedAt = fromNanos(applied)
	return c, nil
}

func (s *SQLStore) CreateUserChange(ctx context.Context, c model.UserChange) (err error) {
	defer func(start time.Time) { s.observe("create_user_change", start, err) }(time.Now())

	_, err = s.exec(ctx,
		`INSERT INTO user_changes (`+changeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID,
		c.Previous.FoldingUserName, c.Previous.Passkey, c.Previous.LiveStatsLink,
		c.Previous.HardwareID, c.Previous.TeamID,
		c.Requested.FoldingUserName, c.Requested.Passkey, c.Requested.LiveStatsLink,
		c.Requested.HardwareID, c.Requested.TeamID,
		string(c.State), toNanos(c.CreatedAt), toNanos(c.UpdatedAt), toNanos(c.AppliedAt),
	)
	return err
}

func (s *SQLStore) UpdateUserChange(ctx context.Context, c model.UserChange) (err error) {
	defer func(start time.Time) { s.observe("update_user_change", start, err) }(time.Now())

	res, err := s.exec(ctx,
		`UPDATE user_changes SET state = ?, updated_at = ?, applied_at = ? WHERE id = ?`,
		string(c.State), toNanos(c.UpdatedAt), toNanos(c.AppliedAt), c.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res, "change", c.ID)
}

func (s *SQLStore) GetUserChange(ctx context.Context, id string) (_ model.UserChange, err error) {
	defer func(start time.Time) { s.observe("get_user_change", start, err) }(time.Now())

	c, err := scanChange(s.queryRow(ctx, `SELECT `+changeColumns+` FROM user_changes WHERE id = ?`, id))
	if err != nil {
		return model.UserChange{}, notFound(err, "change", id)
	}
	return c, nil
}

func (s *SQLStore) ListUserChanges(ctx context.Context, states ...model.ChangeState) (_ []model.UserChange, err error) {
	defer func(start time.Time) { s.observe("list_user_changes", start, err) }(time.Now())

	query := `SELECT ` + changeColumns + ` FROM user_changes`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		query += ` WHERE state IN (?` + strings.Repeat(`, ?`, len(states)-1) + `)`
		for _, st := range states {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserChange
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
