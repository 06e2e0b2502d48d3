package tele

import (
	"context"

	tele_config "github.com/aquanaut/thrustctl/internal/tele/config"
	"github.com/aquanaut/thrustctl/log2"
)

// Tele transport contract:
// - Init fails only with invalid config, ignores network errors
// - Send* return true when the message is handed to the broker layer;
//   false asks the queue worker to retry later
// - application may start without network available
// - assume worst network quality: packet loss, reorder, duplicates
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, cfg tele_config.Config) error
	Close()
	SendState(payload []byte) bool
	SendTelemetry(payload []byte) bool
}
