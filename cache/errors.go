package cache

const (
	// ErrTypeInvalidFilter is the type of errors returned when a filter has
	// malformed bounding boxes or lacks a required spatial component.
	ErrTypeInvalidFilter = "cache_invalid_filter"

	// ErrTypeStore is the type of errors returned when the data store fails.
	ErrTypeStore = "cache_store"
)
