package feed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

type apiOddValue struct {
	Value     string      `json:"value"`
	Odd       string      `json:"odd"`
	Handicap  interface{} `json:"handicap"`
	Suspended bool        `json:"suspended"`
}

type apiBet struct {
	ID     int           `json:"id"`
	Name   string        `json:"name"`
	Values []apiOddValue `json:"values"`
}

type apiBookmaker struct {
	ID   int      `json:"id"`
	Name string   `json:"name"`
	Bets []apiBet `json:"bets"`
}

type apiPrematchOdds struct {
	Bookmakers []apiBookmaker `json:"bookmakers"`
}

type apiLiveOdds struct {
	Status struct {
		Suspended bool `json:"suspended"`
		Blocked   bool `json:"blocked"`
	} `json:"status"`
	Odds []apiBet `json:"odds"`
}

// matchWinnerBet is the provider's bet id for the full-time result market.
const matchWinnerBet = "1"

// PrematchWinOdds returns the full-time result prices of a fixture.
func (c *Client) PrematchWinOdds(ctx context.Context, fixtureID int64) (models.MatchOdds, error) {
	var resp []apiPrematchOdds
	params := url.Values{
		"fixture": {strconv.FormatInt(fixtureID, 10)},
		"bet":     {matchWinnerBet},
	}
	if err := c.get(ctx, "/odds", params, &resp); err != nil {
		return models.MatchOdds{}, fmt.Errorf("failed to fetch odds for fixture %d: %w", fixtureID, err)
	}
	if len(resp) == 0 || len(resp[0].Bookmakers) == 0 {
		return models.MatchOdds{}, fmt.Errorf("%w: no pre-match odds for fixture %d", models.ErrDataShape, fixtureID)
	}

	bm := resp[0].Bookmakers[0]
	for _, b := range resp[0].Bookmakers {
		if c.cfg.BookmakerID != 0 && b.ID == c.cfg.BookmakerID {
			bm = b
			break
		}
	}

	for _, bet := range bm.Bets {
		if strconv.Itoa(bet.ID) != matchWinnerBet {
			continue
		}
		odds, err := parseMatchWinner(bet.Values)
		if err != nil {
			return models.MatchOdds{}, fmt.Errorf("%w: fixture %d: %v", models.ErrDataShape, fixtureID, err)
		}
		return odds, nil
	}
	return models.MatchOdds{}, fmt.Errorf("%w: fixture %d: match winner market missing", models.ErrDataShape, fixtureID)
}

func parseMatchWinner(values []apiOddValue) (models.MatchOdds, error) {
	var odds models.MatchOdds
	for _, v := range values {
		price, err := strconv.ParseFloat(v.Odd, 64)
		if err != nil {
			return models.MatchOdds{}, fmt.Errorf("odd %q: %v", v.Odd, err)
		}
		switch strings.ToLower(v.Value) {
		case "home", "1":
			odds.Home = price
		case "away", "2":
			odds.Away = price
		case "draw", "x":
			d := price
			odds.Draw = &d
		}
	}
	if err := odds.Validate(); err != nil {
		return models.MatchOdds{}, err
	}
	return odds, nil
}

// CornerMarket returns the live total-corners "Over" lines of a fixture. Lines at or
// below currentCorners are already decided and are left out.
func (c *Client) CornerMarket(ctx context.Context, fixtureID int64, currentCorners int) (models.CornerMarket, error) {
	var resp []apiLiveOdds
	params := url.Values{"fixture": {strconv.FormatInt(fixtureID, 10)}}
	if err := c.get(ctx, "/odds/live", params, &resp); err != nil {
		return models.CornerMarket{}, fmt.Errorf("failed to fetch live odds for fixture %d: %w", fixtureID, err)
	}
	if len(resp) == 0 {
		return models.CornerMarket{}, nil
	}
	live := resp[0]
	if live.Status.Blocked {
		return models.CornerMarket{}, nil
	}

	want := strings.ToLower(c.cfg.CornersMarket)
	for _, bet := range live.Odds {
		if !strings.Contains(strings.ToLower(bet.Name), want) {
			continue
		}
		market := models.CornerMarket{Available: true}
		for _, v := range bet.Values {
			if !strings.EqualFold(v.Value, "over") {
				continue
			}
			line, ok := handicap(v.Handicap)
			if !ok || line <= float64(currentCorners) {
				continue
			}
			price, err := strconv.ParseFloat(v.Odd, 64)
			if err != nil {
				continue
			}
			market.Lines = append(market.Lines, models.CornerLine{
				Line:      line,
				Odds:      price,
				Suspended: v.Suspended || live.Status.Suspended,
			})
		}
		return market, nil
	}
	return models.CornerMarket{}, nil
}

// handicap reads a line that may be encoded as a number or a string.
func handicap(v interface{}) (float64, bool) {
	switch h := v.(type) {
	case float64:
		return h, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
