package model

// PushPermissionPayload grants or revokes platform push notifications
type PushPermissionPayload struct {
	Allowed bool `json:"allowed"`
}

// MarkReadResponse reports how many messages were marked as read
type MarkReadResponse struct {
	Count int64 `json:"count"`
}
