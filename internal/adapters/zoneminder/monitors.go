package zoneminder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/okian/aidect/internal/domain/model"
	"github.com/okian/aidect/pkg/logger"
)

// trailingInt captures the event id at the end of an alarm status such as
// "Alarmed event id: 1234".
var trailingInt = regexp.MustCompile(`(\d+)\s*$`)

type alarmResponse struct {
	Status json.RawMessage `json:"status"`
}

// statusText returns the status field as a string whether the host sent a
// string or a number.
func (r alarmResponse) statusText() string {
	var s string
	if err := json.Unmarshal(r.Status, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(r.Status))
}

// Trigger raises an alarm on monitorID and returns the host's event id.
func (c *Client) Trigger(ctx context.Context, monitorID int, tag, description string, score int) (model.EventID, error) {
	path := fmt.Sprintf("api/monitors/alarm/id:%d/command:on.json", monitorID)
	query := url.Values{
		"cause": {tag},
		"text":  {description},
		"score": {strconv.Itoa(score)},
	}
	var resp alarmResponse
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return 0, fmt.Errorf("trigger monitor %d: %w", monitorID, err)
	}

	status := resp.statusText()
	m := trailingInt.FindStringSubmatch(status)
	if m == nil {
		return 0, fmt.Errorf("%w: status %q", ErrNoEventID, status)
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoEventID, err)
	}

	c.logger.Debug(ctx, "alarm raised",
		logger.Int("monitor", monitorID),
		logger.Uint64("event", id),
		logger.Int("score", score))
	return model.EventID(id), nil
}

// UpdateEventNotes replaces the notes of an event.
func (c *Client) UpdateEventNotes(ctx context.Context, id model.EventID, notes string) error {
	path := fmt.Sprintf("api/events/%d.json", uint64(id))
	form := url.Values{"Event[Notes]": {notes}}
	if err := c.do(ctx, http.MethodPut, path, nil, form, nil); err != nil {
		return fmt.Errorf("update notes of event %d: %w", uint64(id), err)
	}
	return nil
}

// State returns the monitor's current state number.
func (c *Client) State(ctx context.Context, monitorID int) (int, error) {
	path := fmt.Sprintf("api/monitors/alarm/id:%d/command:status.json", monitorID)
	var resp alarmResponse
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return 0, fmt.Errorf("state of monitor %d: %w", monitorID, err)
	}
	status := resp.statusText()
	state, err := strconv.Atoi(status)
	if err != nil {
		return 0, fmt.Errorf("state of monitor %d: status %q: %w", monitorID, status, err)
	}
	return state, nil
}

// IsIdle reports whether the monitor is in the configured idle state.
func (c *Client) IsIdle(ctx context.Context, monitorID int) (bool, error) {
	state, err := c.State(ctx, monitorID)
	if err != nil {
		return false, err
	}
	return state == c.idleState, nil
}

type monitorResponse struct {
	Monitor struct {
		Monitor struct {
			ID               string `json:"Id"`
			Name             string `json:"Name"`
			AnalysisFPSLimit string `json:"AnalysisFPSLimit"`
		} `json:"Monitor"`
	} `json:"monitor"`
}

// AnalysisFPS returns the monitor's analysis frame rate limit.
func (c *Client) AnalysisFPS(ctx context.Context, monitorID int) (float64, error) {
	var resp monitorResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/monitors/%d.json", monitorID), nil, nil, &resp); err != nil {
		return 0, fmt.Errorf("monitor %d: %w", monitorID, err)
	}
	raw := strings.TrimSpace(resp.Monitor.Monitor.AnalysisFPSLimit)
	if raw == "" {
		return 0, fmt.Errorf("%w: monitor %d", ErrNoAnalysisFPS, monitorID)
	}
	fps, err := strconv.ParseFloat(raw, 64)
	if err != nil || fps <= 0 {
		return 0, fmt.Errorf("%w: monitor %d reports %q", ErrNoAnalysisFPS, monitorID, raw)
	}
	return fps, nil
}

type zonesResponse struct {
	Zones []struct {
		Zone struct {
			Name   string `json:"Name"`
			Coords string `json:"Coords"`
		} `json:"Zone"`
	} `json:"zones"`
}

// Zone returns the outline of the named zone of monitorID.
func (c *Client) Zone(ctx context.Context, monitorID int, name string) (model.Polygon, error) {
	var resp zonesResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/zones/forMonitor/%d.json", monitorID), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("zones of monitor %d: %w", monitorID, err)
	}
	for _, z := range resp.Zones {
		if z.Zone.Name != name {
			continue
		}
		poly, err := model.ParsePolygon(z.Zone.Coords)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", name, err)
		}
		return poly, nil
	}
	return nil, fmt.Errorf("%w: %q on monitor %d", ErrZoneNotFound, name, monitorID)
}
