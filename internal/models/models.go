package models

import (
	"fmt"
	"strings"
	"time"
)

// Service identifies one connected collaboration platform.
type Service string

const (
	ServiceSlack     Service = "slack"
	ServiceDiscord   Service = "discord"
	ServiceTeams     Service = "teams"
	ServiceGoogle    Service = "google"
	ServiceLineWorks Service = "lineworks"
	ServiceChatWork  Service = "chatwork"
	ServiceZoom      Service = "zoom"
)

var allServices = []Service{
	ServiceSlack, ServiceDiscord, ServiceTeams, ServiceGoogle,
	ServiceLineWorks, ServiceChatWork, ServiceZoom,
}

func AllServices() []Service {
	out := make([]Service, len(allServices))
	copy(out, allServices)
	return out
}

func ParseService(s string) (Service, error) {
	svc := Service(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allServices {
		if svc == known {
			return svc, nil
		}
	}
	return "", fmt.Errorf("unknown_service: %q", s)
}

// RecordKind selects which unified record type an aggregate call returns.
type RecordKind string

const (
	KindMessages   RecordKind = "messages"
	KindMeetings   RecordKind = "meetings"
	KindActivities RecordKind = "activities"
)

func ParseRecordKind(s string) (RecordKind, error) {
	k := RecordKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindMessages, KindMeetings, KindActivities:
		return k, nil
	}
	return "", fmt.Errorf("unknown_record_kind: %q", s)
}

// Integration is one persisted OAuth binding between a user and a service.
// AccessToken/RefreshToken hold decrypted values in memory only; at rest they
// are AES-GCM encrypted by the store.
type Integration struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId"`
	Service      Service   `json:"service"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TeamID       *string   `json:"teamId,omitempty"`
	TeamName     *string   `json:"teamName,omitempty"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

const DefaultLimit = 100

// FetchOptions constrains one aggregate call. Limit is a soft cap applied
// after the cross-service merge, not per service.
type FetchOptions struct {
	DateFrom        *time.Time
	DateTo          *time.Time
	Limit           int
	Cursor          string
	IncludeMetadata bool
	Channels        []string
}

// InWindow reports whether t falls inside the inclusive [DateFrom, DateTo]
// bounds; unset bounds are open.
func (o FetchOptions) InWindow(t time.Time) bool {
	if o.DateFrom != nil && t.Before(*o.DateFrom) {
		return false
	}
	if o.DateTo != nil && t.After(*o.DateTo) {
		return false
	}
	return true
}

// WantsChannel reports whether the channel allow-list admits id.
// An empty list admits everything.
func (o FetchOptions) WantsChannel(id string) bool {
	if len(o.Channels) == 0 {
		return true
	}
	for _, c := range o.Channels {
		if c == id {
			return true
		}
	}
	return false
}

// UnifiedRecord is the shape every aggregate response row satisfies,
// regardless of source service.
type UnifiedRecord interface {
	RecordID() string
	RecordTimestamp() time.Time
	RecordService() Service
}

// UnifiedMessage is the normalized message schema shared across all services.
// Timestamp is always an absolute UTC instant.
type UnifiedMessage struct {
	ID          string         `json:"id"`
	Service     Service        `json:"service"`
	ChannelID   string         `json:"channelId"`
	ChannelName string         `json:"channelName"`
	AuthorID    string         `json:"authorId"`
	AuthorName  string         `json:"authorName"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp"`
	ThreadID    *string        `json:"threadId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (m UnifiedMessage) RecordID() string           { return m.ID }
func (m UnifiedMessage) RecordTimestamp() time.Time { return m.Timestamp }
func (m UnifiedMessage) RecordService() Service     { return m.Service }

// UnifiedMeeting is the normalized conferencing-event schema. Only records
// with a genuine conferencing component qualify; plain calendar entries are
// filtered out during normalization.
type UnifiedMeeting struct {
	ID             string         `json:"id"`
	Service        Service        `json:"service"`
	Title          string         `json:"title"`
	OrganizerID    string         `json:"organizerId"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        time.Time      `json:"endTime"`
	ParticipantIDs []string       `json:"participantIds"`
	JoinURL        *string        `json:"joinUrl,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (m UnifiedMeeting) RecordID() string           { return m.ID }
func (m UnifiedMeeting) RecordTimestamp() time.Time { return m.StartTime }
func (m UnifiedMeeting) RecordService() Service     { return m.Service }

// UnifiedActivity is the union view used by recordType=activities: one row
// per message or meeting, reduced to who did what when.
type UnifiedActivity struct {
	ID        string    `json:"id"`
	Service   Service   `json:"service"`
	Kind      string    `json:"kind"` // "message" or "meeting"
	ActorID   string    `json:"actorId"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}

func (a UnifiedActivity) RecordID() string           { return a.ID }
func (a UnifiedActivity) RecordTimestamp() time.Time { return a.Timestamp }
func (a UnifiedActivity) RecordService() Service     { return a.Service }

// Pagination is part of the wire contract of every aggregate response.
type Pagination struct {
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
	TotalCount int    `json:"totalCount"`
}

// SourceStatus is the per-service diagnostics entry: how many records a
// service contributed, or why it contributed nothing.
type SourceStatus struct {
	Service Service `json:"service"`
	Records int     `json:"records"`
	Error   string  `json:"error,omitempty"`
}

// ServiceDataResponse is the envelope returned to every aggregate caller.
type ServiceDataResponse struct {
	Success    bool            `json:"success"`
	Data       []UnifiedRecord `json:"data"`
	Pagination Pagination      `json:"pagination"`
	Sources    []SourceStatus  `json:"sources,omitempty"`
	Error      string          `json:"error,omitempty"`
}
