package workflow

import (
	"context"
	"fmt"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/ledger/eth"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewServiceFromEnv builds the ledger client, notifier, snapshot sink and
// metrics from the environment. The returned stop func flushes the notifier
// and closes the ledger connections.
func NewServiceFromEnv(ctx context.Context, db *gorm.DB, reg prometheus.Registerer) (*Service, func(), error) {
	logger := config.GetLogger()

	cfg, err := config.LoadLedgerConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("ledger config: %w", err)
	}
	var client ledger.Client
	if cfg.Mode != config.LedgerModeLocalOnly {
		client, err = eth.NewFromConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: ledger dial: %v", models.ErrConnection, err)
		}
	}

	notifier, err := NewNotifierFromEnv(ctx)
	if err != nil {
		// drift notices are best effort
		config.LogError(logger, "wiring.go", "NewServiceFromEnv", "Creating notifier", config.DriftTopic(), err)
		notifier = nil
	}
	sink, err := NewSnapshotSinkFromEnv(ctx)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return nil, nil, fmt.Errorf("snapshot sink: %w", err)
	}
	metrics := NewMetrics(reg)

	coord := NewCoordinator(db, client,
		WithMode(cfg.Mode),
		WithConfirmTimeout(cfg.ConfirmTimeout),
		WithNotifier(notifier),
		WithMetrics(metrics),
	)
	var readerClient ledger.Client = ledger.Noop{}
	if client != nil {
		readerClient = client
	}
	reader := NewReader(db, readerClient,
		WithSink(sink),
		WithReaderNotifier(notifier),
		WithReaderMetrics(metrics),
		WithRawSignatures(cfg.RawEventSignatures),
	)

	logger.WithFields(logrus.Fields{
		"field": "NewServiceFromEnv",
		"mode":  coord.Mode(),
		"sink":  fmt.Sprintf("%T", sink),
	}).Info("service ready")

	svc := NewService(db, coord, reader)
	stop := func() {
		if s, ok := notifier.(interface{ Stop() }); ok {
			s.Stop()
		}
		if err := svc.Close(); err != nil {
			config.LogError(logger, "wiring.go", "stop", "Closing ledger client", nil, err)
		}
	}
	return svc, stop, nil
}
