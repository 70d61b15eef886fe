package main

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/ingestion"
	"SaleLedger/internal/observability"
	"SaleLedger/internal/persistence"
	"SaleLedger/internal/projection"
	"context"
)

// bridge converts core outputs into the persistence, projection and
// publisher formats so none of those packages imports the core's channels.
// Persistence sends block; projection and publish sends drop when full.
type bridge struct {
	persistIn    <-chan core.CoreOutput
	projectionIn <-chan core.CoreOutput

	persistOut    chan<- persistence.CoreOutput
	projectionOut chan<- projection.ProjectionOutput
	publishOut    chan<- ingestion.PublishableEvent // nil when NATS is disabled

	metrics *observability.Metrics
}

// Run forwards until both inputs are closed, then closes its outputs so the
// workers drain and exit.
func (b *bridge) Run(ctx context.Context) error {
	defer func() {
		close(b.persistOut)
		close(b.projectionOut)
		if b.publishOut != nil {
			close(b.publishOut)
		}
	}()

	persistIn, projectionIn := b.persistIn, b.projectionIn
	for persistIn != nil || projectionIn != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			row := persistence.CoreOutput{
				EventRow:    persistence.EventRowFromEnvelope(out.Envelope),
				JournalRows: persistence.JournalRowsFromBatch(out.Batch),
			}
			select {
			case b.persistOut <- row:
			case <-ctx.Done():
				return ctx.Err()
			}
			b.publish(out)
			b.gauge("persist", len(b.persistIn))

		case out, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case b.projectionOut <- projection.OutputFromCore(out):
			default:
				if b.metrics != nil {
					b.metrics.ProjectionDrops.WithLabelValues("read_model").Inc()
				}
			}
			b.gauge("projection", len(b.projectionIn))
		}
	}
	return nil
}

// publish follows the persist stream so outbound events keep log order.
func (b *bridge) publish(out core.CoreOutput) {
	if b.publishOut == nil {
		return
	}
	select {
	case b.publishOut <- ingestion.PublishableFromCore(out):
	default:
		if b.metrics != nil {
			b.metrics.PublishDrops.Inc()
		}
	}
}

func (b *bridge) gauge(channel string, n int) {
	if b.metrics != nil {
		b.metrics.ChannelSize.WithLabelValues(channel).Set(float64(n))
	}
}
