package models

// ShareNotification is what the notifier needs to tell a user about a new grant.
type ShareNotification struct {
	RecipientEmail string
	SharerName     string
	NodeName       string
	NodeKind       NodeKind
	Level          AccessLevel
}
