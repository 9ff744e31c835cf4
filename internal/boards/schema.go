package boards

// boardFile is the on-disk shape of a board. JSON files use the same keys.
type boardFile struct {
	ID          string     `yaml:"id"`
	GuildID     string     `yaml:"guild_id"`
	ChannelID   string     `yaml:"channel_id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Color       string     `yaml:"color"`
	Tasks       []taskFile `yaml:"tasks"`
}

type taskFile struct {
	Name                        string `yaml:"name"`
	Description                 string `yaml:"description"`
	Emoji                       string `yaml:"emoji"`
	DurationMinutes             int    `yaml:"duration_minutes"`
	CooldownMinutes             int    `yaml:"cooldown_minutes"`
	MaxUses                     *int   `yaml:"max_uses"`
	Global                      bool   `yaml:"global"`
	NotificationIntervalMinutes int    `yaml:"notification_interval_minutes"`
	EarlyNotificationMinutes    int    `yaml:"early_notification_minutes"`
}
