// Package bus carries outbound chat notifications from producers to the bot.
package bus

type Notification struct {
	ChatID int64
	Text   string
}
