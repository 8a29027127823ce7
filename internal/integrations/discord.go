package integrations

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"teampulse/internal/models"
)

const discordAPIBase = "https://discord.com/api/v10"

// DiscordFetcher walks guilds -> text channels -> messages. The guild and
// channel ceilings are shared: the first N text channels across the user's
// guilds, in discovery order.
type DiscordFetcher struct {
	base
	apiBase string
}

func NewDiscordFetcher(d Deps) *DiscordFetcher {
	return &DiscordFetcher{base: newBase(d, models.ServiceDiscord), apiBase: discordAPIBase}
}

func (f *DiscordFetcher) Supports(kind models.RecordKind) bool {
	return kind == models.KindMessages || kind == models.KindActivities
}

type discordGuild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type discordChannel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
	GuildID string `json:"guild_id"`
}

const discordTextChannel = 0

func (f *DiscordFetcher) Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	return f.guard(ctx, integ, func() ([]models.RawRecord, Page, error) {
		return f.fetchOnce(ctx, integ, opts)
	})
}

func (f *DiscordFetcher) fetchOnce(ctx context.Context, integ *models.Integration, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	channels, err := f.listChannels(ctx, integ)
	if err != nil {
		return nil, Page{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	if limit > 100 {
		limit = 100 // provider page cap
	}

	var out []models.RawRecord
	var page Page
	fetched := 0
	for _, ch := range channels {
		if fetched >= f.ceiling {
			page.HasMore = true
			break
		}
		if !opts.WantsChannel(ch.ID) {
			continue
		}
		fetched++

		if err := f.pacer.Wait(ctx); err != nil {
			return out, page, &NetworkError{Service: f.svc, Err: err}
		}

		msgs, err := f.channelMessages(ctx, integ.AccessToken, ch, limit)
		if err != nil {
			f.logger.Warn("channel_messages_failed", "service", f.svc, "channel_id", ch.ID, "error", err)
			continue
		}
		if len(msgs) == limit {
			page.HasMore = true
		}
		out = append(out, msgs...)
	}
	return out, page, nil
}

func (f *DiscordFetcher) listChannels(ctx context.Context, integ *models.Integration) ([]discordChannel, error) {
	key := fmt.Sprintf("channels:discord:%d", integ.ID)
	return cachedJSON(ctx, &f.base, key, 5*time.Minute, func() ([]discordChannel, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiBase+"/users/@me/guilds", nil)
		if err != nil {
			return nil, fmt.Errorf("failed_to_create_request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

		var guilds []discordGuild
		status, err := f.getJSON(ctx, req, &guilds)
		if err != nil || status != http.StatusOK {
			return nil, f.primaryErr(status, err)
		}

		var channels []discordChannel
		for i, g := range guilds {
			if i >= f.ceiling {
				break
			}
			if err := f.pacer.Wait(ctx); err != nil {
				return nil, &NetworkError{Service: f.svc, Err: err}
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiBase+"/guilds/"+url.PathEscape(g.ID)+"/channels", nil)
			if err != nil {
				continue
			}
			req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

			var guildChannels []discordChannel
			status, err := f.getJSON(ctx, req, &guildChannels)
			if err != nil || status != http.StatusOK {
				f.logger.Warn("guild_channels_failed", "service", f.svc, "guild_id", g.ID, "status", status, "error", err)
				continue
			}
			for _, ch := range guildChannels {
				if ch.Type != discordTextChannel {
					continue
				}
				ch.GuildID = g.ID
				channels = append(channels, ch)
			}
		}
		return channels, nil
	})
}

func (f *DiscordFetcher) channelMessages(ctx context.Context, token string, ch discordChannel, limit int) ([]models.RawRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.apiBase+"/channels/"+url.PathEscape(ch.ID)+"/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed_to_create_request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var msgs []models.RawDiscordMessage
	status, err := f.getJSON(ctx, req, &msgs)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("messages_error: status=%d", status)
	}

	out := make([]models.RawRecord, 0, len(msgs))
	for _, m := range msgs {
		m.ChannelName = ch.Name
		m.GuildID = ch.GuildID
		out = append(out, m)
	}
	return out, nil
}
