package call

import (
	"fmt"
	"time"
)

// ChannelName derives the RTC channel of a consultation from its participants
// and creation time.
func ChannelName(expertID, userID string, t time.Time) string {
	return fmt.Sprintf("call_%s_%s_%d", expertID, userID, t.UnixMilli())
}
