package metrics

import (
	"github.com/artpar/choices/core/access"
	"github.com/artpar/choices/core/events"
	"github.com/artpar/choices/core/schema"
)

// The Collector records field activity reported by route tables.

func (c *Collector) FieldRead(field string) {
	c.FieldReads.WithLabelValues(field).Inc()
}

func (c *Collector) FieldWritten(field string, source events.Source) {
	c.FieldWrites.WithLabelValues(field, string(source)).Inc()
}

func (c *Collector) ValidationFailed(field string) {
	c.ValidationFailures.WithLabelValues(field).Inc()
}

func (c *Collector) ParseFailed(field string) {
	c.ParseFailures.WithLabelValues(field).Inc()
}

func (c *Collector) AccessFailed(op access.Op, kind schema.LockKind) {
	c.AccessErrors.WithLabelValues(string(op), kind.String()).Inc()
}
