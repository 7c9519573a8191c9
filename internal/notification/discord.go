package notification

import (
	"fmt"
	"strconv"
	"time"

	"scanpilot/internal/models"

	"github.com/bwmarrin/discordgo"
)

type Message struct {
	Title       string
	Description string
	Severity    string
	Fields      []Field
	Timestamp   time.Time
}

type Field struct {
	Name  string
	Value string
}

// Notifier delivers scan messages to an operator channel.
type Notifier interface {
	Send(msg Message) error
	Close() error
}

type NotificationClient struct {
	sg        *discordgo.Session
	channelID string
}

func NewNotificationClient(token, channelID string) (*NotificationClient, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token not set")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord channel id not set")
	}

	sg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	if err := sg.Open(); err != nil {
		return nil, err
	}

	return &NotificationClient{sg: sg, channelID: channelID}, nil
}

func severityColor(severity string) int {
	switch severity {
	case "critical":
		return 0x8B0000
	case "high":
		return 0xFF0000
	case "medium":
		return 0xFF8C00
	case "low":
		return 0xFFD700
	case "info":
		return 0x00BFFF
	default:
		return 0x808080
	}
}

// Embed renders msg the way it is posted to Discord.
func Embed(msg Message) *discordgo.MessageEmbed {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       severityColor(msg.Severity),
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
	}

	if len(msg.Fields) > 0 {
		fields := make([]*discordgo.MessageEmbedField, 0, len(msg.Fields))
		for _, f := range msg.Fields {
			fields = append(fields, &discordgo.MessageEmbedField{
				Name:   f.Name,
				Value:  f.Value,
				Inline: true,
			})
		}
		embed.Fields = fields
	}
	return embed
}

func (c *NotificationClient) Send(msg Message) error {
	if c.sg == nil {
		return fmt.Errorf("discord client not initialized")
	}
	_, err := c.sg.ChannelMessageSendEmbed(c.channelID, Embed(msg))
	return err
}

func (c *NotificationClient) Close() error {
	if c.sg != nil {
		return c.sg.Close()
	}
	return nil
}

// ScanMessage summarizes a terminal scan. Severity follows the worst signal
// the scan carries.
func ScanMessage(scan *models.Scan) Message {
	msg := Message{
		Title:       fmt.Sprintf("Scan %s: %s", scan.Status, scan.Target),
		Description: scan.Summary,
		Fields: []Field{
			{Name: "Scan ID", Value: scan.ID},
			{Name: "Tools", Value: fmt.Sprint(scan.Tools)},
		},
	}
	if scan.FinishedAt != nil {
		msg.Timestamp = *scan.FinishedAt
	}

	switch scan.Status {
	case models.ScanStatusFailed:
		msg.Severity = "info"
	case models.ScanStatusClean:
		msg.Severity = "low"
	default:
		msg.Fields = append(msg.Fields,
			Field{Name: "Issues", Value: strconv.Itoa(scan.Issues)},
			Field{Name: "Critical", Value: strconv.Itoa(scan.Critical)},
			Field{Name: "Risk", Value: strconv.Itoa(scan.RiskScore)},
		)
		switch {
		case scan.Critical > 0:
			msg.Severity = "critical"
		case scan.RiskScore >= 70:
			msg.Severity = "high"
		default:
			msg.Severity = "medium"
		}
	}

	if scan.DurationMinutes != nil {
		msg.Fields = append(msg.Fields, Field{Name: "Duration", Value: fmt.Sprintf("%d min", *scan.DurationMinutes)})
	}
	return msg
}
