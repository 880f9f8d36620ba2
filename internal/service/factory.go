package service

import (
	"jirareporter.app/reporter/internal/store"
	"jirareporter.app/reporter/internal/tracker"
)

type Services struct {
	db        store.Database
	gateway   tracker.Gateway
	producers Producers
}

func NewServices(db store.Database, gateway tracker.Gateway, producers Producers) *Services {
	return &Services{
		db:        db,
		gateway:   gateway,
		producers: producers,
	}
}

func (s *Services) Reconcile() ReconcileService {
	return NewReconcileService(
		s.db.Configs(),
		s.db.Issues(),
		s.gateway,
		s.producers.Reports,
		s.producers.Results,
	)
}

func (s *Services) Integrations() IntegrationService {
	return NewIntegrationService(s.db.Configs(), s.producers.Verify)
}
