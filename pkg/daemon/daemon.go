package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/calibrator"
	"github.com/jointcal/jointcal/pkg/config"
	"github.com/jointcal/jointcal/pkg/events"
	"github.com/jointcal/jointcal/pkg/hardware"
)

var (
	conf     config.Config
	calib    *calibrator.Calibrator
	hw       hardware.Set
	eventHub *events.EventHub
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", getConfig)
	router.GET("/description", getDescription)
	router.GET("/status", getStatus)
	router.POST("/calibration/start", postStartCalibration)
	router.POST("/calibration/abort", postAbortCalibration)
	router.POST("/park", postPark)
	router.POST("/park/abort", postAbortPark)
	router.PUT("/schedule", putSchedule)
	router.POST("/schedule/postpone", postPostpone)
	router.POST("/schedule/skip", postSkip)
	router.GET("/events", getEvents)
	router.GET("/version", getVersion)

	return router
}

// statePathFor returns where reports are persisted for a settings file.
func statePathFor(configPath string) string {
	return strings.TrimSuffix(configPath, filepath.Ext(configPath)) + ".state.json"
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	eventHub = events.NewEventHub()
	calib = calibrator.New(eventHub)

	desc, err := config.LoadDescription(conf.DescriptionPath())
	if err != nil {
		logrus.Fatalf("failed to load calibrator description: %v", err)
	}
	if err := calib.Open(desc); err != nil {
		logrus.Fatalf("failed to open calibrator: %v", err)
	}

	device, err := openHardware(conf, calib.Config().NumJoints())
	if err != nil {
		logrus.Fatalf("failed to open hardware: %v", err)
	}
	hw = hardware.NewSet(device)

	initState(statePathFor(configPath))
	initScheduler()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := reload(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	// A stale socket from a previous run would make Listen fail.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("failed to remove stale socket %s: %v", unixSocketPath, err)
	}
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("stopping scheduler")
	scheduler.Stop()

	shutdownOperations(conf.ParkOnShutdown())

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	if err := calib.Close(); err != nil {
		logrus.Errorf("failed to close calibrator: %v", err)
	}

	logrus.Info("closing hardware connection")
	if err := closeHardware(device); err != nil {
		logrus.Errorf("failed to close hardware: %v", err)
	}

	logrus.Info("exiting")
	return nil
}

// reload re-reads the settings and the description. The description is only
// swapped in while no operation is running.
func reload() error {
	if err := conf.Load(); err != nil {
		return err
	}
	desc, err := config.LoadDescription(conf.DescriptionPath())
	if err != nil {
		return err
	}
	if calib.Busy() {
		return calibrator.ErrBusy
	}
	if err := calib.Open(desc); err != nil {
		return err
	}
	if _, err := schedule(conf.Cron()); err != nil {
		logrus.WithError(err).Warn("failed to apply schedule after reload")
	}
	return nil
}
