// Package calibration defines the types describing a joint calibration run.
// It contains:
//
//   - Phase: the steps a joint group goes through while being calibrated
//   - Outcome: why a group ended where it did
//   - Report / ParkReport: results of one calibrate or park invocation
//   - Status: the view returned by the daemon HTTP API and printed by the CLI
//
// These types are shared across the calibrator, daemon and client code to
// keep JSON contracts consistent.
package calibration
