package domain

// Channel is the source a message arrived on.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSlack    Channel = "slack"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelGeneric  Channel = "generic"
)

// ChannelKind groups channels by how they are classified.
type ChannelKind string

const (
	KindEmail    ChannelKind = "email"
	KindChat     ChannelKind = "chat"
	KindPersonal ChannelKind = "sms_or_chat_personal"
	KindGeneric  ChannelKind = "generic"
)

// Channels lists every channel in display order.
var Channels = []Channel{ChannelEmail, ChannelSlack, ChannelSMS, ChannelWhatsApp, ChannelGeneric}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSlack, ChannelSMS, ChannelWhatsApp, ChannelGeneric:
		return true
	}
	return false
}

func (c Channel) Kind() ChannelKind {
	switch c {
	case ChannelEmail:
		return KindEmail
	case ChannelSlack:
		return KindChat
	case ChannelSMS, ChannelWhatsApp:
		return KindPersonal
	}
	return KindGeneric
}

// IsPersonal reports whether the channel carries person-to-person traffic.
func (c Channel) IsPersonal() bool {
	return c.Kind() == KindPersonal
}
