package interfaces

type EventPublisher interface {
	Publish(eventType string, event any) error
}
