// Package normalize maps each provider's raw payload onto the unified record
// schema. Every function here is pure: no IO, no clock, no mutation of input.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"teampulse/internal/models"
)

var (
	// ErrMalformedRecord: a required field (usually the timestamp) is missing
	// or unparseable. The caller drops the record and keeps going.
	ErrMalformedRecord = errors.New("malformed_record")

	// ErrNotConferencing: a calendar event with no conferencing component.
	// Not an error condition, just not a meeting.
	ErrNotConferencing = errors.New("not_a_conferencing_event")
)

// Record converts one raw provider record into a UnifiedMessage or
// UnifiedMeeting. Provider field names never appear at the top level; they
// are echoed under metadata only when includeMetadata is set.
func Record(raw models.RawRecord, includeMetadata bool) (models.UnifiedRecord, error) {
	switch r := raw.(type) {
	case models.RawSlackMessage:
		return slackMessage(r, includeMetadata)
	case models.RawDiscordMessage:
		return discordMessage(r, includeMetadata)
	case models.RawTeamsMessage:
		return teamsMessage(r, includeMetadata)
	case models.RawTeamsEvent:
		return teamsMeeting(r, includeMetadata)
	case models.RawGoogleEvent:
		return googleMeeting(r, includeMetadata)
	case models.RawLineWorksMessage:
		return lineWorksMessage(r, includeMetadata)
	case models.RawChatWorkMessage:
		return chatWorkMessage(r, includeMetadata)
	case models.RawZoomMeeting:
		return zoomMeeting(r, includeMetadata)
	}
	return nil, fmt.Errorf("%w: unknown_raw_type %T", ErrMalformedRecord, raw)
}

// ToActivity reduces a unified record to the who-did-what-when union view.
func ToActivity(rec models.UnifiedRecord) models.UnifiedActivity {
	switch r := rec.(type) {
	case models.UnifiedMessage:
		return models.UnifiedActivity{
			ID:        r.ID,
			Service:   r.Service,
			Kind:      "message",
			ActorID:   r.AuthorID,
			Timestamp: r.Timestamp,
			Summary:   truncate(r.Text, 140),
		}
	case models.UnifiedMeeting:
		return models.UnifiedActivity{
			ID:        r.ID,
			Service:   r.Service,
			Kind:      "meeting",
			ActorID:   r.OrganizerID,
			Timestamp: r.StartTime,
			Summary:   truncate(r.Title, 140),
		}
	}
	return models.UnifiedActivity{
		ID:        rec.RecordID(),
		Service:   rec.RecordService(),
		Kind:      "activity",
		Timestamp: rec.RecordTimestamp(),
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// ParseSlackTs converts Slack's fractional-seconds string ("1690000000.000100")
// into a UTC instant. The fraction is microseconds, zero-padded on the right.
func ParseSlackTs(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("%w: empty_ts", ErrMalformedRecord)
	}
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad_ts %q", ErrMalformedRecord, ts)
	}
	var nsec int64
	if fracPart != "" {
		// pad/trim to microsecond precision
		if len(fracPart) > 6 {
			fracPart = fracPart[:6]
		}
		for len(fracPart) < 6 {
			fracPart += "0"
		}
		micros, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad_ts %q", ErrMalformedRecord, ts)
		}
		nsec = micros * 1000
	}
	return time.Unix(sec, nsec).UTC(), nil
}

// parseISO accepts the RFC3339 variants the providers emit, including Graph's
// seven-digit fractions and its zone-less calendar datetimes (which we request
// in UTC).
func parseISO(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty_timestamp", ErrMalformedRecord)
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.9999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad_timestamp %q", ErrMalformedRecord, s)
}

func slackMessage(r models.RawSlackMessage, includeMetadata bool) (models.UnifiedRecord, error) {
	ts, err := ParseSlackTs(r.Ts)
	if err != nil {
		return nil, err
	}

	authorName := r.Username
	if authorName == "" {
		authorName = r.User
	}

	msg := models.UnifiedMessage{
		ID:          fmt.Sprintf("slack-%s-%s", r.ChannelID, r.Ts),
		Service:     models.ServiceSlack,
		ChannelID:   r.ChannelID,
		ChannelName: r.ChannelName,
		AuthorID:    r.User,
		AuthorName:  authorName,
		Text:        r.Text,
		Timestamp:   ts,
	}
	if r.ThreadTs != "" {
		thread := r.ThreadTs
		msg.ThreadID = &thread
	}
	if includeMetadata {
		msg.Metadata = map[string]any{
			"ts":   r.Ts,
			"team": r.Team,
		}
	}
	return msg, nil
}

func discordMessage(r models.RawDiscordMessage, includeMetadata bool) (models.UnifiedRecord, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing_id", ErrMalformedRecord)
	}
	ts, err := parseISO(r.Timestamp)
	if err != nil {
		return nil, err
	}

	authorName := r.Author.GlobalName
	if authorName == "" {
		authorName = r.Author.Username
	}

	msg := models.UnifiedMessage{
		ID:          "discord-" + r.ID,
		Service:     models.ServiceDiscord,
		ChannelID:   r.ChannelID,
		ChannelName: r.ChannelName,
		AuthorID:    r.Author.ID,
		AuthorName:  authorName,
		Text:        r.Content,
		Timestamp:   ts,
	}
	if r.MessageReference != nil && r.MessageReference.MessageID != "" {
		thread := r.MessageReference.MessageID
		msg.ThreadID = &thread
	}
	if includeMetadata {
		msg.Metadata = map[string]any{
			"guild_id": r.GuildID,
			"username": r.Author.Username,
		}
	}
	return msg, nil
}

func teamsMessage(r models.RawTeamsMessage, includeMetadata bool) (models.UnifiedRecord, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing_id", ErrMalformedRecord)
	}
	ts, err := parseISO(r.CreatedDateTime)
	if err != nil {
		return nil, err
	}

	msg := models.UnifiedMessage{
		ID:          "teams-" + r.ID,
		Service:     models.ServiceTeams,
		ChannelID:   r.ChannelIdentity.ChannelID,
		ChannelName: r.ChannelName,
		AuthorID:    r.From.User.ID,
		AuthorName:  r.From.User.DisplayName,
		Text:        r.Body.Content,
		Timestamp:   ts,
	}
	if r.ReplyToID != "" {
		thread := r.ReplyToID
		msg.ThreadID = &thread
	}
	if includeMetadata {
		msg.Metadata = map[string]any{
			"teamId":      r.ChannelIdentity.TeamID,
			"contentType": r.Body.ContentType,
		}
	}
	return msg, nil
}

func teamsMeeting(r models.RawTeamsEvent, includeMetadata bool) (models.UnifiedRecord, error) {
	if !r.IsOnlineMeeting && (r.OnlineMeeting == nil || r.OnlineMeeting.JoinURL == "") {
		return nil, ErrNotConferencing
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing_id", ErrMalformedRecord)
	}
	start, err := parseISO(r.Start.DateTime)
	if err != nil {
		return nil, err
	}
	end, err := parseISO(r.End.DateTime)
	if err != nil {
		return nil, err
	}

	participants := make([]string, 0, len(r.Attendees))
	for _, a := range r.Attendees {
		if a.EmailAddress.Address != "" {
			participants = append(participants, a.EmailAddress.Address)
		}
	}

	meeting := models.UnifiedMeeting{
		ID:             "teams-" + r.ID,
		Service:        models.ServiceTeams,
		Title:          r.Subject,
		OrganizerID:    r.Organizer.EmailAddress.Address,
		StartTime:      start,
		EndTime:        end,
		ParticipantIDs: participants,
	}
	if r.OnlineMeeting != nil && r.OnlineMeeting.JoinURL != "" {
		join := r.OnlineMeeting.JoinURL
		meeting.JoinURL = &join
	}
	if includeMetadata {
		meeting.Metadata = map[string]any{
			"organizerName": r.Organizer.EmailAddress.Name,
			"timeZone":      r.Start.TimeZone,
		}
	}
	return meeting, nil
}

func googleMeeting(r models.RawGoogleEvent, includeMetadata bool) (models.UnifiedRecord, error) {
	joinURL := r.HangoutLink
	if joinURL == "" && r.ConferenceData != nil {
		for _, ep := range r.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.URI != "" {
				joinURL = ep.URI
				break
			}
		}
	}
	if joinURL == "" {
		return nil, ErrNotConferencing
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing_id", ErrMalformedRecord)
	}

	start, err := googleEventTime(r.Start.DateTime, r.Start.Date)
	if err != nil {
		return nil, err
	}
	end, err := googleEventTime(r.End.DateTime, r.End.Date)
	if err != nil {
		return nil, err
	}

	participants := make([]string, 0, len(r.Attendees))
	for _, a := range r.Attendees {
		if a.Email != "" {
			participants = append(participants, a.Email)
		}
	}

	meeting := models.UnifiedMeeting{
		ID:             "google-" + r.ID,
		Service:        models.ServiceGoogle,
		Title:          r.Summary,
		OrganizerID:    r.Organizer.Email,
		StartTime:      start,
		EndTime:        end,
		ParticipantIDs: participants,
		JoinURL:        &joinURL,
	}
	if includeMetadata {
		meeting.Metadata = map[string]any{
			"hangoutLink": r.HangoutLink,
		}
	}
	return meeting, nil
}

func googleEventTime(dateTime, date string) (time.Time, error) {
	if dateTime != "" {
		return parseISO(dateTime)
	}
	if date != "" {
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad_date %q", ErrMalformedRecord, date)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: missing_event_time", ErrMalformedRecord)
}

func lineWorksMessage(r models.RawLineWorksMessage, includeMetadata bool) (models.UnifiedRecord, error) {
	if r.MessageID == "" {
		return nil, fmt.Errorf("%w: missing_id", ErrMalformedRecord)
	}
	if r.CreatedTime <= 0 {
		return nil, fmt.Errorf("%w: missing_created_time", ErrMalformedRecord)
	}

	msg := models.UnifiedMessage{
		ID:          "lineworks-" + r.MessageID,
		Service:     models.ServiceLineWorks,
		ChannelID:   r.RoomID,
		ChannelName: r.RoomName,
		AuthorID:    r.AccountID,
		AuthorName:  r.AccountName,
		Text:        r.Content.Text,
		Timestamp:   time.UnixMilli(r.CreatedTime).UTC(),
	}
	if includeMetadata {
		msg.Metadata = map[string]any{
			"contentType": r.Content.Type,
			"createdTime": r.CreatedTime,
		}
	}
	return msg, nil
}

func chatWorkMessage(r models.RawChatWorkMessage, includeMetadata bool) (models.UnifiedRecord, error) {
	if r.MessageID == "" {
		return nil, fmt.Errorf("%w: missing_id", ErrMalformedRecord)
	}
	if r.SendTime <= 0 {
		return nil, fmt.Errorf("%w: missing_send_time", ErrMalformedRecord)
	}

	msg := models.UnifiedMessage{
		ID:          "chatwork-" + r.MessageID,
		Service:     models.ServiceChatWork,
		ChannelID:   r.RoomID,
		ChannelName: r.RoomName,
		AuthorID:    strconv.FormatInt(r.Account.AccountID, 10),
		AuthorName:  r.Account.Name,
		Text:        r.Body,
		Timestamp:   time.Unix(r.SendTime, 0).UTC(),
	}
	if includeMetadata {
		msg.Metadata = map[string]any{
			"send_time": r.SendTime,
		}
	}
	return msg, nil
}

func zoomMeeting(r models.RawZoomMeeting, includeMetadata bool) (models.UnifiedRecord, error) {
	if r.ID == 0 && r.UUID == "" {
		return nil, fmt.Errorf("%w: missing_id", ErrMalformedRecord)
	}
	start, err := parseISO(r.StartTime)
	if err != nil {
		return nil, err
	}

	id := r.UUID
	if id == "" {
		id = strconv.FormatInt(r.ID, 10)
	}

	meeting := models.UnifiedMeeting{
		ID:             "zoom-" + id,
		Service:        models.ServiceZoom,
		Title:          r.Topic,
		OrganizerID:    r.HostID,
		StartTime:      start,
		EndTime:        start.Add(time.Duration(r.Duration) * time.Minute),
		ParticipantIDs: []string{},
	}
	if r.JoinURL != "" {
		join := r.JoinURL
		meeting.JoinURL = &join
	}
	if includeMetadata {
		meeting.Metadata = map[string]any{
			"meeting_id": r.ID,
			"duration":   r.Duration,
		}
	}
	return meeting, nil
}
