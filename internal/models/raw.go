package models

// Raw provider payloads, one tagged variant per service. Fetchers decode the
// upstream wire format into these; the normalizer dispatches exhaustively on
// the concrete type. No map[string]any flows past this boundary except the
// explicit metadata passthrough.

type RawRecord interface {
	RawService() Service
}

// RawSlackMessage is one entry from conversations.history, annotated with the
// channel it was read from. Ts is Slack's fractional seconds string
// (e.g. "1690000000.000100") and doubles as the message id within a channel.
type RawSlackMessage struct {
	ChannelID   string
	ChannelName string
	Ts          string `json:"ts"`
	User        string `json:"user"`
	Username    string `json:"username"`
	Text        string `json:"text"`
	ThreadTs    string `json:"thread_ts"`
	Team        string `json:"team"`
}

func (RawSlackMessage) RawService() Service { return ServiceSlack }

// RawDiscordMessage is one entry from GET /channels/{id}/messages.
type RawDiscordMessage struct {
	ChannelName string
	GuildID     string
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"` // ISO-8601
	Author      struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
	} `json:"author"`
	MessageReference *struct {
		MessageID string `json:"message_id"`
	} `json:"message_reference"`
}

func (RawDiscordMessage) RawService() Service { return ServiceDiscord }

// RawTeamsMessage is one chatMessage from the Graph channel messages endpoint.
type RawTeamsMessage struct {
	ChannelName     string
	ID              string `json:"id"`
	ChannelIdentity struct {
		ChannelID string `json:"channelId"`
		TeamID    string `json:"teamId"`
	} `json:"channelIdentity"`
	ReplyToID       string `json:"replyToId"`
	CreatedDateTime string `json:"createdDateTime"` // ISO-8601
	From            struct {
		User struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

func (RawTeamsMessage) RawService() Service { return ServiceTeams }

// RawTeamsEvent is one Graph calendar event; qualifies as a meeting only when
// the online-meeting fields are present.
type RawTeamsEvent struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Organizer struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"organizer"`
	Start struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"end"`
	Attendees []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"attendees"`
	IsOnlineMeeting bool `json:"isOnlineMeeting"`
	OnlineMeeting   *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting"`
}

func (RawTeamsEvent) RawService() Service { return ServiceTeams }

// RawGoogleEvent is one Calendar API event; qualifies as a meeting only when
// it carries conference data or a hangout link.
type RawGoogleEvent struct {
	ID        string `json:"id"`
	Summary   string `json:"summary"`
	Organizer struct {
		Email string `json:"email"`
	} `json:"organizer"`
	Start struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"` // all-day events
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"end"`
	Attendees []struct {
		Email string `json:"email"`
	} `json:"attendees"`
	HangoutLink    string `json:"hangoutLink"`
	ConferenceData *struct {
		EntryPoints []struct {
			EntryPointType string `json:"entryPointType"`
			URI            string `json:"uri"`
		} `json:"entryPoints"`
	} `json:"conferenceData"`
}

func (RawGoogleEvent) RawService() Service { return ServiceGoogle }

// RawLineWorksMessage is one entry from the LINE WORKS room messages API.
// CreatedTime is epoch milliseconds.
type RawLineWorksMessage struct {
	RoomName    string
	MessageID   string `json:"messageId"`
	RoomID      string `json:"roomId"`
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	CreatedTime int64  `json:"createdTime"`
	Content     struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (RawLineWorksMessage) RawService() Service { return ServiceLineWorks }

// RawChatWorkMessage is one entry from GET /rooms/{id}/messages.
// SendTime is epoch seconds.
type RawChatWorkMessage struct {
	RoomID    string
	RoomName  string
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
	SendTime  int64  `json:"send_time"`
	Account   struct {
		AccountID int64  `json:"account_id"`
		Name      string `json:"name"`
	} `json:"account"`
}

func (RawChatWorkMessage) RawService() Service { return ServiceChatWork }

// RawZoomMeeting is one entry from GET /users/me/meetings.
type RawZoomMeeting struct {
	ID        int64  `json:"id"`
	UUID      string `json:"uuid"`
	Topic     string `json:"topic"`
	HostID    string `json:"host_id"`
	StartTime string `json:"start_time"` // ISO-8601
	Duration  int    `json:"duration"`   // minutes
	JoinURL   string `json:"join_url"`
}

func (RawZoomMeeting) RawService() Service { return ServiceZoom }
