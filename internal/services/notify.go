package services

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/doofx0071/doofs-dns/internal/models"
)

// Notifier receives fire-and-forget platform events. Implementations must
// not block the calling mutation; a failed notification never rolls back a
// claim.
type Notifier interface {
	DomainClaimed(ctx context.Context, domain *models.Domain)
	DomainReleased(ctx context.Context, domain *models.Domain)
}

// LogNotifier is the default Notifier. Notification fan-out (email, in-app)
// is an external collaborator; here the events are only logged.
type LogNotifier struct{}

func (LogNotifier) DomainClaimed(_ context.Context, domain *models.Domain) {
	log.WithFields(log.Fields{"domain": domain.FQDN(), "owner": domain.OwnerEmail}).
		Info("domain claimed")
}

func (LogNotifier) DomainReleased(_ context.Context, domain *models.Domain) {
	log.WithFields(log.Fields{"domain": domain.FQDN()}).Info("domain released")
}
