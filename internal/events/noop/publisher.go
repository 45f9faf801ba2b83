package noop

import log "github.com/sirupsen/logrus"

// Publisher drops events. Used when no broker is configured.
type Publisher struct{}

func (Publisher) Publish(eventType string, event any) error {
	log.WithField("eventType", eventType).Debug("Event dropped, no broker configured")
	return nil
}
