// Package delivery implements the two delivery stages behind a send: a
// deadline-bounded parallel publish across a set of relays, and a durable
// retry queue that re-attempts anything the deadline pass did not land.
// Together they give at-least-once delivery on top of unreliable relays.
package delivery
