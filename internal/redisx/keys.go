package redisx

import "time"

const (
	// Idempotent booking request: idem:booking:request:{user_id}:{idempotency_key} -> booking_id
	KeyIdemBookingRequest = "idem:booking:request:%s:%s"

	// Cached booking view: booking_status:{booking_id} -> JSON body served by GET /v1/bookings/{id}
	KeyBookingStatus = "booking_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour

	// outlives any in-flight GET, which is bounded well below this
	TTLStatusTombstone = 30 * time.Second
)
