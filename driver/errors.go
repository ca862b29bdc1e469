package driver

import "errors"

// errConnFailed is returned by awaitMessage/idle when the socket's read
// side has pushed the CmdConnectionFailed sentinel: the driver must
// close state and reconnect with backoff.
var errConnFailed = errors.New("driver: peer connection failed")

// errConnClosed is returned if the incoming-message channel is closed
// out from under the driver (process shutdown), distinct from a peer
// read failure.
var errConnClosed = errors.New("driver: incoming message channel closed")
