package pressure

import (
	"context"
	"log/slog"
	"time"

	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/types"
	"bplog/internal/mqtt"
)

// MQTTSubscriber interface for attaching message handlers
type MQTTSubscriber interface {
	SetMessageHandler(handler mqtt.Handler)
}

type recorder interface {
	Record(ctx context.Context, t readings.Triple, at time.Time, raw string) (types.Reading, error)
}

// RegisterMQTTHandler stores every measurement the subscriber receives.
func RegisterMQTTHandler(subscriber MQTTSubscriber, svc recorder, logger *slog.Logger) {
	subscriber.SetMessageHandler(func(ctx context.Context, m mqtt.Measurement) error {
		logger.Debug("processing measurement message",
			"device", m.Device,
			"timestamp", m.Timestamp,
		)

		raw := "mqtt"
		if m.Device != "" {
			raw += " device=" + m.Device
		}
		rec, err := svc.Record(ctx, readings.Triple{
			Systolic:  m.Systolic,
			Diastolic: m.Diastolic,
			Pulse:     m.Pulse,
		}, m.Timestamp, raw)
		if err != nil {
			logger.Error("failed to store measurement",
				"device", m.Device,
				"error", err,
			)
			return err
		}

		logger.Debug("successfully stored measurement",
			"device", m.Device,
			"t", rec.Time,
		)
		return nil
	})
}
