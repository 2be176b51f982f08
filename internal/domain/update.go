package domain

import "time"

// Update is one inbound value for a source. Value replaces the previous one
// wholesale; producers must not mutate it after handing it over.
type Update struct {
	Source     string
	Value      any
	ReceivedAt time.Time
}
