package queue

import (
	"time"

	"github.com/carepulse/notify/internal/domain"
)

// Item is the minimal data placed on a lane. The dispatcher fetches the full
// Notification from the repository by ID, keeping the queue lightweight and
// the stored data authoritative.
type Item struct {
	NotificationID string
	Channel        domain.Channel
	Priority       domain.Priority

	// DueAt is when the item becomes eligible for dispatch. The zero value
	// means immediately due; ties break on enqueue order.
	DueAt time.Time

	seq uint64
}
