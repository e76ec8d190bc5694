package client

import "errors"

var (
	errNotifyURLRequired     = errors.New("notify websocket url is required")
	errNotifySessionRequired = errors.New("session id is required")
	errNotifyClientRequired  = errors.New("sync client is required")
)
