package storage

// DomainStore is everything the server needs from durable storage.
type DomainStore interface {
	ProgressAdapter
	QuestRepository
	RoadmapStore
}

var _ DomainStore = (*InMemory)(nil)
