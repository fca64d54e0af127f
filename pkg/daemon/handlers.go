package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/config"
	"github.com/jointcal/jointcal/pkg/version"
)

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

// operationStatusCode maps operation errors to HTTP codes.
func operationStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrNoOperation):
		return http.StatusConflict
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getDescription(c *gin.Context) {
	cfg := calib.Config()
	if cfg == nil {
		abortWithError(c, http.StatusServiceUnavailable, errors.New("calibrator is not open"))
		return
	}
	c.IndentedJSON(http.StatusOK, cfg)
}

func getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, getStatusSnapshot())
}

func postStartCalibration(c *gin.Context) {
	if err := startCalibration(); err != nil {
		logrus.WithError(err).Warn("failed to start calibration")
		abortWithError(c, operationStatusCode(err), err)
		return
	}
	logrus.Info("calibration started")
	c.IndentedJSON(http.StatusAccepted, "calibration started")
}

func postAbortCalibration(c *gin.Context) {
	if err := abortCalibration(); err != nil {
		abortWithError(c, operationStatusCode(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, "calibration abort requested")
}

func postPark(c *gin.Context) {
	wait := true
	if c.Request.ContentLength != 0 {
		if err := c.BindJSON(&wait); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
	}

	if err := startPark(wait); err != nil {
		logrus.WithError(err).Warn("failed to start parking")
		abortWithError(c, operationStatusCode(err), err)
		return
	}
	logrus.WithField("wait", wait).Info("parking started")
	c.IndentedJSON(http.StatusAccepted, "parking started")
}

func postAbortPark(c *gin.Context) {
	if err := abortPark(); err != nil {
		abortWithError(c, operationStatusCode(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, "park abort requested")
}

type scheduleResponse struct {
	NextRuns []time.Time `json:"nextRuns"`
}

func putSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	next, err := schedule(strings.TrimSpace(expr))
	if err != nil {
		code := http.StatusInternalServerError
		if strings.HasPrefix(err.Error(), "invalid cron expression") {
			code = http.StatusBadRequest
		}
		abortWithError(c, code, err)
		return
	}
	c.IndentedJSON(http.StatusOK, scheduleResponse{NextRuns: next})
}

func postPostpone(c *gin.Context) {
	var raw string
	if err := c.BindJSON(&raw); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid duration %q: %w", raw, err))
		return
	}

	if err := postpone(d); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("next calibration postponed by %s", d))
}

func postSkip(c *gin.Context) {
	if err := skipNextSchedule(); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "next calibration skipped")
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
