package notifs

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/webhook"
	"github.com/disgoorg/snowflake/v2"

	"github.com/lopezpalacios/recurring-commitment/common"
	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.Notifier = &DiscordHandler{}

type DiscordColor int

const (
	DiscordColor_None    = iota
	DiscordColor_Info    = 3447003
	DiscordColor_Ok      = 3581519
	DiscordColor_Warning = 16776960
	DiscordColor_Alert   = 16711712
)

const DiscordPacing = 2 * time.Second

// Discord rejects embed descriptions longer than this
const discordMaxDescLen = 4096

type DiscordHandler struct {
	alertWebhook webhook.Client
	testWebhook  webhook.Client
	logger       models.Logger
}

// NewDiscordHandler builds a notifier from webhook urls. Either url may be empty, in which case alerts meant for it are
// dropped.
func NewDiscordHandler(logger models.Logger, alertUrl, testUrl string) (*DiscordHandler, error) {
	if a, err := parseDiscordWebhookUrl(alertUrl); err != nil {
		return nil, fmt.Errorf("discord: invalid alert webhook: %w", err)
	} else if t, err := parseDiscordWebhookUrl(testUrl); err != nil {
		return nil, fmt.Errorf("discord: invalid test webhook: %w", err)
	} else {
		return &DiscordHandler{a, t, logger}, nil
	}
}

func parseDiscordWebhookUrl(webhookUrl string) (webhook.Client, error) {
	if len(webhookUrl) > 0 {
		if parsedUrl, err := url.Parse(webhookUrl); err != nil {
			return nil, err
		} else {
			urlParts := strings.Split(strings.TrimSuffix(parsedUrl.Path, "/"), "/")
			if len(urlParts) < 2 {
				return nil, fmt.Errorf("missing webhook id or token in %s", parsedUrl.Path)
			}
			if id, err := snowflake.Parse(urlParts[len(urlParts)-2]); err != nil {
				return nil, err
			} else {
				return webhook.New(id, urlParts[len(urlParts)-1]), nil
			}
		}
	}
	return nil, nil
}

func (d DiscordHandler) SendAlert(title, desc string) error {
	if d.alertWebhook != nil {
		if err := d.sendNotif(d.alertWebhook, title, desc, DiscordColor_Alert); err != nil {
			return err
		}
	}
	// Always duplicate notifications to the test channel, if configured.
	if d.testWebhook != nil {
		return d.sendNotif(d.testWebhook, title, desc, DiscordColor_Alert)
	}
	return nil
}

func (d DiscordHandler) sendNotif(wh webhook.Client, title, desc string, color DiscordColor) error {
	if len(desc) > discordMaxDescLen {
		desc = desc[:discordMaxDescLen-3] + "..."
	}
	messageEmbed := discord.Embed{
		Title:       title,
		Description: desc,
		Type:        discord.EmbedTypeRich,
		Color:       int(color),
	}
	_, err := wh.CreateMessage(discord.NewWebhookMessageCreateBuilder().
		SetEmbeds(messageEmbed).
		SetUsername(common.ServiceName).
		Build(),
		rest.WithDelay(DiscordPacing),
	)
	if err != nil {
		d.logger.Errorf("discord: error sending notification: %v, %s, %s", err, title, desc)
		return err
	}
	return nil
}
