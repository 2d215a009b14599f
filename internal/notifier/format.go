package notifier

import (
	"fmt"
	"strings"

	"go-wanderer/internal/tracking"
)

// FormatSystemAdded builds the tracked-system notification.
func FormatSystemAdded(s tracking.TrackedSystem) Notification {
	fields := []Field{
		{Name: "System", Value: s.DisplayName(), Inline: true},
	}
	if s.ClassTitle != "" {
		fields = append(fields, Field{Name: "Class", Value: s.ClassTitle, Inline: true})
	}
	if len(s.Statics) > 0 {
		fields = append(fields, Field{Name: "Statics", Value: strings.Join(s.Statics, ", "), Inline: true})
	}
	if s.RegionName != "" {
		fields = append(fields, Field{Name: "Region", Value: s.RegionName, Inline: true})
	}

	return Notification{
		Kind:        KindSystem,
		Fingerprint: fmt.Sprintf("system:%d", s.SolarSystemID),
		Payload: WebhookPayload{
			Embeds: []Embed{{
				Title:  "System added to map",
				Color:  ColorSystem,
				Fields: fields,
			}},
		},
	}
}

// FormatCharacterAdded builds the tracked-character notification.
func FormatCharacterAdded(c tracking.TrackedCharacter, corpName, allianceName string) Notification {
	fields := []Field{
		{Name: "Character", Value: c.Name, Inline: true},
	}
	if corpName != "" {
		fields = append(fields, Field{Name: "Corporation", Value: corpName, Inline: true})
	}
	if allianceName != "" {
		fields = append(fields, Field{Name: "Alliance", Value: allianceName, Inline: true})
	}

	return Notification{
		Kind:        KindCharacter,
		Fingerprint: fmt.Sprintf("character:%d", c.EveID),
		Payload: WebhookPayload{
			Embeds: []Embed{{
				Title:  "Character joined map",
				Color:  ColorCharacter,
				Fields: fields,
			}},
		},
	}
}

// FormatRally builds the rally-point notification.
func FormatRally(systemName, message string, systemID int64) Notification {
	fields := []Field{
		{Name: "System", Value: systemName, Inline: true},
	}
	if message != "" {
		fields = append(fields, Field{Name: "Message", Value: message, Inline: false})
	}

	return Notification{
		Kind:        KindRally,
		Fingerprint: fmt.Sprintf("rally:%d", systemID),
		Payload: WebhookPayload{
			Content: "@here Rally point set",
			Embeds: []Embed{{
				Title:  "Rally point",
				Color:  ColorRally,
				Fields: fields,
			}},
		},
	}
}

// FormatStatus builds an operational status notification.
func FormatStatus(title, description string) Notification {
	return Notification{
		Kind: KindStatus,
		Payload: WebhookPayload{
			Embeds: []Embed{{
				Title:       title,
				Description: description,
				Color:       ColorStatus,
			}},
		},
	}
}
