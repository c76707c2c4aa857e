package loadsim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
)

// alertPage mirrors GET /api/v1/alerts.
type alertPage struct {
	Items []model.AlertRecord `json:"items"`
}

// verifyResults checks that every injected jump produced exactly one
// impossible-travel alert, and that nothing was lost on the way in.
func verifyResults(ctx context.Context, config *Config, routes []Route, stats *Stats) error {
	log := logger.Get().Named("loadsim")

	if stats.BatchesFailed > 0 {
		return fmt.Errorf("%d batches failed", stats.BatchesFailed)
	}
	if accepted := stats.Synced - stats.Duplicates; accepted != stats.SamplesGenerated {
		return fmt.Errorf("server accepted %d of %d samples", accepted, stats.SamplesGenerated)
	}

	tok, err := signToken(config, "load-sim-manager", time.Now(), "MANAGER")
	if err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: config.Timeout}

	var mismatched int
	for _, r := range routes {
		alerts, err := fetchAlerts(ctx, httpClient, config.BaseURL, tok, r.EmployeeID, r.Jumps*2+10)
		if err != nil {
			return err
		}
		stats.AlertsObserved += len(alerts)

		travel := 0
		for _, a := range alerts {
			if a.Type == model.AlertImpossibleTravel {
				travel++
			}
		}
		if travel != r.Jumps {
			mismatched++
			log.Warn(ctx, "impossible travel alerts do not match injected jumps",
				logger.String("employee", r.EmployeeID),
				logger.Int("jumps", r.Jumps),
				logger.Int("alerts", travel),
			)
		}
	}
	if mismatched > 0 {
		return fmt.Errorf("%d of %d employees had unexpected alerts", mismatched, len(routes))
	}

	log.Info(ctx, "result verification completed", logger.Int("employees", len(routes)))
	return nil
}

func fetchAlerts(ctx context.Context, c *http.Client, baseURL, token, employeeID string, limit int) ([]model.AlertRecord, error) {
	q := url.Values{}
	q.Set("employeeId", employeeID)
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/alerts?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch alerts: HTTP %d", resp.StatusCode)
	}

	var page alertPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return page.Items, nil
}
