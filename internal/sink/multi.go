package sink

import (
	"context"
	"log/slog"

	"beaconscan/internal/model"
)

// Mirror receives a copy of every record after the table write.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, rec model.BeaconDataRecord) error
}

// Multi writes to a primary sink and then to each mirror. Only the primary
// decides whether a record was persisted; mirror failures are logged.
type Multi struct {
	primary Sink
	mirrors []Mirror
	logger  *slog.Logger
}

// NewMulti combines primary with mirrors. Nil mirrors are skipped.
func NewMulti(primary Sink, logger *slog.Logger, mirrors ...Mirror) *Multi {
	m := &Multi{primary: primary, logger: logger}
	for _, mirror := range mirrors {
		if mirror != nil {
			m.mirrors = append(m.mirrors, mirror)
		}
	}
	return m
}

// AppendAndFlush implements Sink.
func (m *Multi) AppendAndFlush(ctx context.Context, rec model.BeaconDataRecord) error {
	err := m.primary.AppendAndFlush(ctx, rec)

	for _, mirror := range m.mirrors {
		if merr := mirror.Mirror(ctx, rec); merr != nil {
			m.logger.Warn("mirror write failed", "mirror", mirror.Name(), "address", rec.DeviceAddress, "error", merr)
		}
	}

	return err
}
