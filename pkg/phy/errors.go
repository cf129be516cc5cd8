package phy

import "errors"

var (
	// ErrClosed is returned when the medium or radio is closed.
	ErrClosed = errors.New("phy: closed")

	// ErrBusy is returned when the radio is already transmitting.
	ErrBusy = errors.New("phy: radio busy")

	// ErrInvalidEndpoint is returned for an endpoint other than 0 or 1.
	ErrInvalidEndpoint = errors.New("phy: invalid endpoint")

	// ErrEndpointInUse is returned when a second radio binds an endpoint.
	ErrEndpointInUse = errors.New("phy: endpoint in use")

	// ErrNoMedium is returned when a radio is created without a medium.
	ErrNoMedium = errors.New("phy: no medium")

	// ErrInvalidChannel is returned for a channel outside 11-26.
	ErrInvalidChannel = errors.New("phy: invalid channel")

	// ErrNotAttached is returned when transmitting before Attach.
	ErrNotAttached = errors.New("phy: radio not attached")
)
