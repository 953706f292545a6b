// Package storage provides SQLite-backed persistence for alerts and cached pre-match odds.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sqlx.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/cornerwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "cornerwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id               TEXT PRIMARY KEY,
			fixture_id       INTEGER NOT NULL,
			tier             TEXT NOT NULL,
			regime           TEXT NOT NULL,
			intensity        INTEGER NOT NULL,
			league           TEXT NOT NULL DEFAULT '',
			home_team        TEXT NOT NULL,
			away_team        TEXT NOT NULL,
			target_side      TEXT NOT NULL,
			score_at_alert   TEXT NOT NULL,
			minute_sent      INTEGER NOT NULL,
			corners_at_alert INTEGER NOT NULL,
			direction        TEXT NOT NULL,
			implied_line     REAL NOT NULL,
			line_odds        REAL NOT NULL DEFAULT 0,
			home_momentum    REAL NOT NULL,
			away_momentum    REAL NOT NULL,
			created_at       INTEGER NOT NULL,
			final_corners    INTEGER,
			result           TEXT,
			checked_at       INTEGER,
			UNIQUE (fixture_id, tier)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_checked_at ON alerts(checked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS fixture_odds (
			fixture_id INTEGER PRIMARY KEY,
			home_odds  REAL NOT NULL,
			away_odds  REAL NOT NULL,
			draw_odds  REAL,
			fetched_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type alertRow struct {
	ID             string         `db:"id"`
	FixtureID      int64          `db:"fixture_id"`
	Tier           string         `db:"tier"`
	Regime         string         `db:"regime"`
	Intensity      int            `db:"intensity"`
	League         string         `db:"league"`
	HomeTeam       string         `db:"home_team"`
	AwayTeam       string         `db:"away_team"`
	TargetSide     string         `db:"target_side"`
	ScoreAtAlert   string         `db:"score_at_alert"`
	MinuteSent     int            `db:"minute_sent"`
	CornersAtAlert int            `db:"corners_at_alert"`
	Direction      string         `db:"direction"`
	ImpliedLine    float64        `db:"implied_line"`
	LineOdds       float64        `db:"line_odds"`
	HomeMomentum   float64        `db:"home_momentum"`
	AwayMomentum   float64        `db:"away_momentum"`
	CreatedAt      int64          `db:"created_at"`
	FinalCorners   sql.NullInt64  `db:"final_corners"`
	Result         sql.NullString `db:"result"`
	CheckedAt      sql.NullInt64  `db:"checked_at"`
}

const alertCols = `id, fixture_id, tier, regime, intensity, league, home_team, away_team,
	target_side, score_at_alert, minute_sent, corners_at_alert, direction, implied_line,
	line_odds, home_momentum, away_momentum, created_at, final_corners, result, checked_at`

func toRow(a *models.Alert) alertRow {
	r := alertRow{
		ID:             a.ID,
		FixtureID:      a.FixtureID,
		Tier:           string(a.Tier),
		Regime:         string(a.Regime),
		Intensity:      int(a.Intensity),
		League:         a.League,
		HomeTeam:       a.HomeTeam,
		AwayTeam:       a.AwayTeam,
		TargetSide:     string(a.TargetSide),
		ScoreAtAlert:   a.ScoreAtAlert,
		MinuteSent:     a.MinuteSent,
		CornersAtAlert: a.CornersAtAlert,
		Direction:      string(a.Direction),
		ImpliedLine:    a.ImpliedLine,
		LineOdds:       a.LineOdds,
		HomeMomentum:   a.HomeMomentum,
		AwayMomentum:   a.AwayMomentum,
		CreatedAt:      a.CreatedAt.UnixNano(),
	}
	if a.FinalCorners != nil {
		r.FinalCorners = sql.NullInt64{Int64: int64(*a.FinalCorners), Valid: true}
	}
	if a.Result != nil {
		r.Result = sql.NullString{String: string(*a.Result), Valid: true}
	}
	if a.CheckedAt != nil {
		r.CheckedAt = sql.NullInt64{Int64: a.CheckedAt.UnixNano(), Valid: true}
	}
	return r
}

func (r alertRow) toAlert() *models.Alert {
	a := &models.Alert{
		ID:             r.ID,
		FixtureID:      r.FixtureID,
		Tier:           models.Tier(r.Tier),
		Regime:         models.Regime(r.Regime),
		Intensity:      models.Intensity(r.Intensity),
		League:         r.League,
		HomeTeam:       r.HomeTeam,
		AwayTeam:       r.AwayTeam,
		TargetSide:     models.Side(r.TargetSide),
		ScoreAtAlert:   r.ScoreAtAlert,
		MinuteSent:     r.MinuteSent,
		CornersAtAlert: r.CornersAtAlert,
		Direction:      models.Direction(r.Direction),
		ImpliedLine:    r.ImpliedLine,
		LineOdds:       r.LineOdds,
		HomeMomentum:   r.HomeMomentum,
		AwayMomentum:   r.AwayMomentum,
		CreatedAt:      time.Unix(0, r.CreatedAt),
	}
	if r.FinalCorners.Valid {
		n := int(r.FinalCorners.Int64)
		a.FinalCorners = &n
	}
	if r.Result.Valid {
		res := models.Result(r.Result.String)
		a.Result = &res
	}
	if r.CheckedAt.Valid {
		t := time.Unix(0, r.CheckedAt.Int64)
		a.CheckedAt = &t
	}
	return a
}

// SaveAlert inserts alert. A second alert for the same fixture and tier is
// rejected with models.ErrDuplicateAlert.
func (s *Storage) SaveAlert(ctx context.Context, alert *models.Alert) error {
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO alerts (`+alertCols+`)
		VALUES (:id, :fixture_id, :tier, :regime, :intensity, :league, :home_team, :away_team,
			:target_side, :score_at_alert, :minute_sent, :corners_at_alert, :direction,
			:implied_line, :line_odds, :home_momentum, :away_momentum, :created_at,
			:final_corners, :result, :checked_at)
		ON CONFLICT (fixture_id, tier) DO NOTHING`, toRow(alert))
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fixture %d tier %s: %w", alert.FixtureID, alert.Tier, models.ErrDuplicateAlert)
	}
	return nil
}

func (s *Storage) getOne(ctx context.Context, query string, args ...any) (*models.Alert, error) {
	var r alertRow
	err := s.db.GetContext(ctx, &r, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.toAlert(), nil
}

// GetAlert returns the alert with id, or models.ErrNotFound.
func (s *Storage) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := s.getOne(ctx, `SELECT `+alertCols+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return a, nil
}

// GetAlertByFixtureTier returns the alert for fixture and tier, or models.ErrNotFound.
func (s *Storage) GetAlertByFixtureTier(ctx context.Context, fixtureID int64, tier models.Tier) (*models.Alert, error) {
	a, err := s.getOne(ctx,
		`SELECT `+alertCols+` FROM alerts WHERE fixture_id = ? AND tier = ?`, fixtureID, string(tier))
	if err != nil {
		return nil, fmt.Errorf("failed to get alert for fixture %d tier %s: %w", fixtureID, tier, err)
	}
	return a, nil
}

func (s *Storage) selectAlerts(ctx context.Context, query string, args ...any) ([]*models.Alert, error) {
	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	alerts := make([]*models.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, r.toAlert())
	}
	return alerts, nil
}

// UnsettledAlerts returns alerts without a result created at or before createdBefore,
// oldest first.
func (s *Storage) UnsettledAlerts(ctx context.Context, createdBefore time.Time) ([]*models.Alert, error) {
	alerts, err := s.selectAlerts(ctx, `
		SELECT `+alertCols+` FROM alerts
		WHERE checked_at IS NULL AND created_at <= ?
		ORDER BY created_at`, createdBefore.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled alerts: %w", err)
	}
	return alerts, nil
}

// RecentAlerts returns the newest alerts, up to limit.
func (s *Storage) RecentAlerts(ctx context.Context, limit int) ([]*models.Alert, error) {
	alerts, err := s.selectAlerts(ctx,
		`SELECT `+alertCols+` FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	return alerts, nil
}

// SettleAlert writes the settlement of alert id exactly once. It returns
// models.ErrAlreadyGraded when a result is already present and models.ErrNotFound
// when no such alert exists.
func (s *Storage) SettleAlert(ctx context.Context, id string, finalCorners int, result models.Result, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET final_corners = ?, result = ?, checked_at = ?
		WHERE id = ? AND checked_at IS NULL`,
		finalCorners, string(result), checkedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to settle alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to check alert %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("alert %s: %w", id, models.ErrAlreadyGraded)
}

// AlertedTiers returns the tiers that already have an alert for fixtureID.
func (s *Storage) AlertedTiers(ctx context.Context, fixtureID int64) ([]models.Tier, error) {
	var tiers []string
	if err := s.db.SelectContext(ctx, &tiers,
		`SELECT tier FROM alerts WHERE fixture_id = ? ORDER BY created_at`, fixtureID); err != nil {
		return nil, fmt.Errorf("failed to query alerted tiers: %w", err)
	}
	out := make([]models.Tier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, models.Tier(t))
	}
	return out, nil
}

// DeleteAlert removes the unsettled alert id. Removing an absent alert is not
// an error; a settled alert is left in place.
func (s *Storage) DeleteAlert(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ? AND checked_at IS NULL`, id); err != nil {
		return fmt.Errorf("failed to delete alert %s: %w", id, err)
	}
	return nil
}

// ResetAlerts deletes every alert and returns how many were removed.
func (s *Storage) ResetAlerts(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Summary counts alerts by settlement outcome.
type Summary struct {
	Total   int `db:"total"`
	Wins    int `db:"wins"`
	Losses  int `db:"losses"`
	Refunds int `db:"refunds"`
	Pending int `db:"pending"`
}

// HitRate returns wins over decided (won or lost) alerts; zero when none are decided.
func (s Summary) HitRate() float64 {
	decided := s.Wins + s.Losses
	if decided == 0 {
		return 0
	}
	return float64(s.Wins) / float64(decided)
}

// Report is the outcome summary overall and per tier.
type Report struct {
	Overall Summary
	ByTier  map[models.Tier]Summary
}

// Stats aggregates settlement outcomes.
func (s *Storage) Stats(ctx context.Context) (*Report, error) {
	var rows []struct {
		Tier string `db:"tier"`
		Summary
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT tier,
		       COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN result = 'WIN' THEN 1 ELSE 0 END), 0) AS wins,
		       COALESCE(SUM(CASE WHEN result = 'LOSS' THEN 1 ELSE 0 END), 0) AS losses,
		       COALESCE(SUM(CASE WHEN result = 'REFUND' THEN 1 ELSE 0 END), 0) AS refunds,
		       COALESCE(SUM(CASE WHEN checked_at IS NULL THEN 1 ELSE 0 END), 0) AS pending
		FROM alerts GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate alert stats: %w", err)
	}

	report := &Report{ByTier: make(map[models.Tier]Summary, len(rows))}
	for _, r := range rows {
		report.ByTier[models.Tier(r.Tier)] = r.Summary
		report.Overall.Total += r.Total
		report.Overall.Wins += r.Wins
		report.Overall.Losses += r.Losses
		report.Overall.Refunds += r.Refunds
		report.Overall.Pending += r.Pending
	}
	return report, nil
}

type oddsRow struct {
	FixtureID int64           `db:"fixture_id"`
	HomeOdds  float64         `db:"home_odds"`
	AwayOdds  float64         `db:"away_odds"`
	DrawOdds  sql.NullFloat64 `db:"draw_odds"`
	FetchedAt int64           `db:"fetched_at"`
}

// SaveOdds caches the pre-match prices of a fixture, replacing any earlier entry.
func (s *Storage) SaveOdds(ctx context.Context, fixtureID int64, odds models.MatchOdds, fetchedAt time.Time) error {
	row := oddsRow{
		FixtureID: fixtureID,
		HomeOdds:  odds.Home,
		AwayOdds:  odds.Away,
		FetchedAt: fetchedAt.UnixNano(),
	}
	if odds.Draw != nil {
		row.DrawOdds = sql.NullFloat64{Float64: *odds.Draw, Valid: true}
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO fixture_odds (fixture_id, home_odds, away_odds, draw_odds, fetched_at)
		VALUES (:fixture_id, :home_odds, :away_odds, :draw_odds, :fetched_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to save odds for fixture %d: %w", fixtureID, err)
	}
	return nil
}

// LoadOdds returns the cached prices of a fixture, or nil when none are cached.
func (s *Storage) LoadOdds(ctx context.Context, fixtureID int64) (*models.MatchOdds, error) {
	var row oddsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT fixture_id, home_odds, away_odds, draw_odds, fetched_at
		FROM fixture_odds WHERE fixture_id = ?`, fixtureID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load odds for fixture %d: %w", fixtureID, err)
	}
	odds := &models.MatchOdds{Home: row.HomeOdds, Away: row.AwayOdds}
	if row.DrawOdds.Valid {
		d := row.DrawOdds.Float64
		odds.Draw = &d
	}
	return odds, nil
}

// DeleteOdds drops the cached prices of a retired fixture.
func (s *Storage) DeleteOdds(ctx context.Context, fixtureID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fixture_odds WHERE fixture_id = ?`, fixtureID); err != nil {
		return fmt.Errorf("failed to delete odds for fixture %d: %w", fixtureID, err)
	}
	return nil
}

// PruneOdds removes cached prices fetched before cutoff.
func (s *Storage) PruneOdds(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fixture_odds WHERE fetched_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune odds: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
