package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/threadwise/pkg/models"
)

// ParticipantInfo lists who took part in recent messages.
type ParticipantInfo struct {
	base
	reader ChannelReader
	users  UserDirectory
	logger *slog.Logger
}

// NewParticipantInfo creates the get_participant_info tool. users may be nil.
func NewParticipantInfo(reader ChannelReader, users UserDirectory) *ParticipantInfo {
	return &ParticipantInfo{
		base: base{
			name:        ParticipantInfoName,
			description: "Look up who participated in a conversation and how active they were",
			keywords:    []string{"user_reference", "participants", "people", "who"},
		},
		reader: reader,
		users:  users,
		logger: slog.Default().With("component", "tool-participants"),
	}
}

// Schema implements tools.Tool.
func (t *ParticipantInfo) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"channel_id":     channelProp,
		"thread_ts":      threadProp,
		"limit":          limitProp,
		"user_reference": map[string]any{"type": "string", "description": "Restrict the report to one @user."},
	}, "channel_id")
}

type participantReport struct {
	Channel      string             `json:"channel"`
	Messages     int                `json:"messages_analyzed"`
	Participants []participantCount `json:"participants"`
}

// Execute implements tools.Tool.
func (t *ParticipantInfo) Execute(ctx context.Context, params models.Params) (string, error) {
	msgs, err := loadMessages(ctx, t.reader, params)
	if err != nil {
		return "", err
	}
	report := participantReport{
		Channel:      params.StringOr("channel_id", ""),
		Messages:     len(msgs),
		Participants: countParticipants(msgs),
	}

	if t.users != nil {
		for i := range report.Participants {
			p := &report.Participants[i]
			name, err := t.users.UserDisplayName(ctx, p.UserID)
			if err != nil {
				// Names are decoration; the counts stand on their own.
				t.logger.Debug("user lookup failed", "user", p.UserID, "error", err)
				continue
			}
			p.Name = name
		}
	}

	if ref := strings.TrimPrefix(params.StringOr("user_reference", ""), "@"); ref != "" {
		filtered := report.Participants[:0]
		for _, p := range report.Participants {
			if strings.EqualFold(p.UserID, ref) || strings.EqualFold(p.Name, ref) {
				filtered = append(filtered, p)
			}
		}
		report.Participants = filtered
	}

	if len(report.Participants) == 0 {
		return fmt.Sprintf("No participants found in the last %d messages.", report.Messages), nil
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
