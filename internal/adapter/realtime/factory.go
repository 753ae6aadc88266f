package realtime

import (
	"context"

	"github.com/sirupsen/logrus"
)

// NewTransport connects to the model, or returns a MockClient when cfg.Mock is set.
func NewTransport(ctx context.Context, cfg Config, log logrus.FieldLogger) (Transport, error) {
	if cfg.Mock {
		log.Debug("RELAY_MODE=MOCK, using mock realtime transport")
		return NewMockClient(), nil
	}
	return Dial(ctx, cfg)
}
