package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/cornerwatch/internal/logger"
	"github.com/rewired-gh/cornerwatch/internal/models"
)

type apiTeam struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type apiFixture struct {
	Fixture struct {
		ID     int64 `json:"id"`
		Status struct {
			Short   string `json:"short"`
			Elapsed *int   `json:"elapsed"`
		} `json:"status"`
	} `json:"fixture"`
	League struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"league"`
	Teams struct {
		Home apiTeam `json:"home"`
		Away apiTeam `json:"away"`
	} `json:"teams"`
	Goals struct {
		Home *int `json:"home"`
		Away *int `json:"away"`
	} `json:"goals"`
}

type apiStatistic struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type apiTeamStatistics struct {
	Team       apiTeam        `json:"team"`
	Statistics []apiStatistic `json:"statistics"`
}

// PhaseFromStatus maps a provider status code to a match phase.
func PhaseFromStatus(short string) models.Phase {
	switch strings.ToUpper(short) {
	case "TBD", "NS":
		return models.PhaseNotStarted
	case "1H":
		return models.PhaseFirstHalf
	case "HT":
		return models.PhaseHalfTime
	case "2H":
		return models.PhaseSecondHalf
	case "ET", "BT", "P":
		return models.PhaseExtraTime
	case "FT", "AET", "PEN":
		return models.PhaseFinished
	default:
		return models.PhaseUnknown
	}
}

func (f *apiFixture) toModel() models.LiveFixture {
	lf := models.LiveFixture{
		ID:       f.Fixture.ID,
		League:   f.League.Name,
		HomeTeam: f.Teams.Home.Name,
		AwayTeam: f.Teams.Away.Name,
		Phase:    PhaseFromStatus(f.Fixture.Status.Short),
	}
	if f.League.Country != "" {
		lf.League = f.League.Country + " - " + f.League.Name
	}
	if f.Fixture.Status.Elapsed != nil {
		lf.Minute = *f.Fixture.Status.Elapsed
	}
	if f.Goals.Home != nil {
		lf.HomeScore = *f.Goals.Home
	}
	if f.Goals.Away != nil {
		lf.AwayScore = *f.Goals.Away
	}
	return lf
}

// statValue reads an integer statistic value. Values arrive as numbers, numeric
// strings, percentages like "55%", or null (treated as zero).
func statValue(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		s = strings.TrimSuffix(strings.TrimSpace(str), "%")
		if s == "" {
			return 0, nil
		}
	}
	return strconv.ParseFloat(s, 64)
}

func parseTeamStats(stats []apiStatistic) (*models.TeamStats, error) {
	ts := &models.TeamStats{}
	for _, st := range stats {
		v, err := statValue(st.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: statistic %q: %v", models.ErrDataShape, st.Type, err)
		}
		switch strings.ToLower(st.Type) {
		case "shots on goal", "shots on target":
			ts.ShotsOnTarget = int(v)
		case "shots off goal", "shots off target":
			ts.ShotsOffTarget = int(v)
		case "dangerous attacks":
			ts.DangerousAttacks = int(v)
		case "ball possession", "possession":
			ts.Possession = v
		case "corner kicks", "corners":
			ts.Corners = int(v)
		}
	}
	return ts, nil
}

// fixtureStatistics loads both teams' statistics for fixture.
func (c *Client) fixtureStatistics(ctx context.Context, f *apiFixture) (home, away *models.TeamStats, err error) {
	var resp []apiTeamStatistics
	params := url.Values{"fixture": {strconv.FormatInt(f.Fixture.ID, 10)}}
	if err := c.get(ctx, "/fixtures/statistics", params, &resp); err != nil {
		return nil, nil, err
	}
	for _, ts := range resp {
		parsed, err := parseTeamStats(ts.Statistics)
		if err != nil {
			return nil, nil, err
		}
		switch ts.Team.ID {
		case f.Teams.Home.ID:
			home = parsed
		case f.Teams.Away.ID:
			away = parsed
		}
	}
	if home == nil || away == nil {
		return nil, nil, fmt.Errorf("%w: fixture %d: statistics for both teams not present", models.ErrDataShape, f.Fixture.ID)
	}
	return home, away, nil
}

// PollLiveFixtures returns every in-progress fixture with its statistics. A fixture
// whose statistics fail to load is returned with nil stats. Each statistics fetch
// gets its own StatsTimeout so a slow fixture cannot starve the rest of the poll.
func (c *Client) PollLiveFixtures(ctx context.Context) ([]models.LiveFixture, error) {
	var raw []apiFixture
	if err := c.get(ctx, "/fixtures", url.Values{"live": {"all"}}, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch live fixtures: %w", err)
	}

	fixtures := make([]models.LiveFixture, len(raw))
	var g errgroup.Group
	g.SetLimit(c.cfg.StatsConcurrency)
	for i := range raw {
		i := i
		fixtures[i] = raw[i].toModel()
		g.Go(func() error {
			fctx, cancel := c.statsContext(ctx)
			defer cancel()
			home, away, err := c.fixtureStatistics(fctx, &raw[i])
			if err != nil {
				logger.Debug("Statistics unavailable for fixture %d: %v", raw[i].Fixture.ID, err)
				return nil
			}
			fixtures[i].HomeStats = home
			fixtures[i].AwayStats = away
			return nil
		})
	}
	_ = g.Wait()

	return fixtures, nil
}

func (c *Client) statsContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.StatsTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.StatsTimeout)
	}
	return context.WithCancel(ctx)
}

// FinalStats returns the settled corner count of a fixture. Finished is false while
// the fixture is still being played.
func (c *Client) FinalStats(ctx context.Context, fixtureID int64) (models.FinalStats, error) {
	var raw []apiFixture
	params := url.Values{"id": {strconv.FormatInt(fixtureID, 10)}}
	if err := c.get(ctx, "/fixtures", params, &raw); err != nil {
		return models.FinalStats{}, fmt.Errorf("failed to fetch fixture %d: %w", fixtureID, err)
	}
	if len(raw) == 0 {
		return models.FinalStats{}, fmt.Errorf("%w: fixture %d not returned", models.ErrSettlementAmbiguous, fixtureID)
	}

	out := models.FinalStats{FixtureID: fixtureID}
	if PhaseFromStatus(raw[0].Fixture.Status.Short) != models.PhaseFinished {
		return out, nil
	}

	home, away, err := c.fixtureStatistics(ctx, &raw[0])
	if errors.Is(err, models.ErrDataShape) {
		return models.FinalStats{}, fmt.Errorf("%w: fixture %d: %w", models.ErrSettlementAmbiguous, fixtureID, err)
	}
	if err != nil {
		return models.FinalStats{}, fmt.Errorf("failed to fetch statistics for fixture %d: %w", fixtureID, err)
	}
	out.Finished = true
	out.Corners = home.Corners + away.Corners
	return out, nil
}
