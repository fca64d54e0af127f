package calibrator

var (
	ErrNotOpen       = &calibratorError{"calibrator is not open"}
	ErrBusy          = &calibratorError{"calibration or parking already in progress"}
	ErrPidRead       = &calibratorError{"failed to read joint pid"}
	ErrTooManyJoints = &calibratorError{"more joints to calibrate than hardware axes"}
)

type calibratorError struct{ msg string }

func (e *calibratorError) Error() string { return e.msg }
