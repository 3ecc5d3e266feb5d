package ptz

// Controller defines the interface for joystick-style gimbal control
type Controller interface {
	// PanTilt sets the yaw/pitch speed
	// pan: -1.0 (left) to 1.0 (right)
	// tilt: -1.0 (down) to 1.0 (up)
	PanTilt(pan, tilt float64) error

	// Zoom drives the zoom motor
	// zoom: -1.0 (wide/out) to 1.0 (tele/in), 0 stops
	Zoom(zoom float64) error

	// Focus drives the focus motor
	// focus: -1.0 (near) to 1.0 (far), 0 stops
	Focus(focus float64) error

	// Stop stops all motion immediately
	Stop() error

	// Center returns the gimbal to its home attitude
	Center() error

	// Close closes the controller connection
	Close() error
}
