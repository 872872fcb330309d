package server

import "github.com/raysh454/pagewatch/internal/logging"

type Config struct {
	// ListenAddr is where the live view listens, e.g. "127.0.0.1:8080".
	ListenAddr string
	// EventBuffer is the per-websocket channel size. Zero means 64.
	EventBuffer int
	Logger      logging.Logger
}
