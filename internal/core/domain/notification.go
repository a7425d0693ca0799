package domain

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

type NotificationAction struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Notification struct {
	ID        string              `json:"id"`
	Type      NotificationType    `json:"type"`
	Title     string              `json:"title"`
	Message   string              `json:"message"`
	Timestamp int64               `json:"timestamp"`
	Read      bool                `json:"read"`
	Action    *NotificationAction `json:"action,omitempty"`
}
