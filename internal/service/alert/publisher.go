package alert

import (
	"context"
	"fmt"

	"github.com/jwalitptl/alleraid-api/internal/livequery"
	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository"
)

// LocationPublisher writes location ticks into alert records. Patient ticks
// move the alert location; responder ticks move the responder and refresh
// distance and ETA against the latest patient position.
type LocationPublisher struct {
	alerts   repository.AlertRepository
	notifier *livequery.Notifier
}

func NewLocationPublisher(alerts repository.AlertRepository, notifier *livequery.Notifier) *LocationPublisher {
	return &LocationPublisher{alerts: alerts, notifier: notifier}
}

func (p *LocationPublisher) Publish(ctx context.Context, sample model.LocationSample) error {
	alert, err := p.alerts.Get(ctx, sample.AlertID)
	if err != nil {
		return err
	}
	loc := sample.Fix.ToLocation()

	switch sample.Role {
	case model.SubjectPatient:
		if err := p.alerts.UpdateLocation(ctx, alert.ID, loc); err != nil {
			return fmt.Errorf("failed to update alert location: %w", err)
		}
	case model.SubjectResponder:
		dist, eta := distanceTo(alert.Location, loc)
		if err := p.alerts.UpdateResponderLocation(ctx, alert.ID, loc, dist, eta); err != nil {
			return fmt.Errorf("failed to update responder location: %w", err)
		}
	default:
		return fmt.Errorf("unknown subject role %q", sample.Role)
	}

	publishChange(ctx, p.notifier, alert)
	return nil
}
