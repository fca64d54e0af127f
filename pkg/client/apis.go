package client

import (
	"encoding/json"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/jointcal/jointcal/pkg/calibration"
	"github.com/jointcal/jointcal/pkg/config"
)

// decodeMessage unquotes a JSON string reply. Anything else is returned as is.
func decodeMessage(ret string) string {
	var s string
	if err := json.Unmarshal([]byte(ret), &s); err != nil {
		return ret
	}
	return s
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

// GetDescription returns the calibration parameters the daemon has loaded.
func (c *Client) GetDescription() (*config.Calibration, error) {
	ret, err := c.Get("/description")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get description")
	}

	var cal config.Calibration
	if err := json.Unmarshal([]byte(ret), &cal); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal description")
	}
	return &cal, nil
}

func (c *Client) GetStatus() (*calibration.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return decodeMessage(ret), nil
}

func (c *Client) StartCalibration() (string, error) {
	ret, err := c.Post("/calibration/start", "")
	return decodeMessage(ret), err
}

func (c *Client) AbortCalibration() (string, error) {
	ret, err := c.Post("/calibration/abort", "")
	return decodeMessage(ret), err
}

// Park sends every joint home. With wait the daemon polls until the motion
// completes or times out.
func (c *Client) Park(wait bool) (string, error) {
	ret, err := c.Post("/park", strconv.FormatBool(wait))
	return decodeMessage(ret), err
}

func (c *Client) AbortPark() (string, error) {
	ret, err := c.Post("/park/abort", "")
	return decodeMessage(ret), err
}

// Schedule sets the recalibration cron expression. An empty expression
// disables scheduled runs. The next three run times are returned.
func (c *Client) Schedule(cronExpr string) ([]time.Time, error) {
	payload, err := json.Marshal(cronExpr)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/schedule", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set schedule")
	}

	var resp struct {
		NextRuns []time.Time `json:"nextRuns"`
	}
	if err := json.Unmarshal([]byte(ret), &resp); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule response")
	}
	return resp.NextRuns, nil
}

func (c *Client) Postpone(d time.Duration) (string, error) {
	payload, err := json.Marshal(d.String())
	if err != nil {
		return "", err
	}
	ret, err := c.Post("/schedule/postpone", string(payload))
	return decodeMessage(ret), err
}

func (c *Client) SkipNextSchedule() (string, error) {
	ret, err := c.Post("/schedule/skip", "")
	return decodeMessage(ret), err
}
