package killmail

import (
	"fmt"
	"strconv"

	"go-wanderer/internal/notifier"
)

// formatKill builds the kill notification payload.
func formatKill(e *Enriched, reason string) notifier.Notification {
	victim := e.VictimName
	if victim == "" {
		victim = "Unknown pilot"
	}
	system := e.SystemName
	if system == "" {
		system = strconv.FormatInt(e.SolarSystemID, 10)
	}

	fields := []notifier.Field{
		{Name: "Victim", Value: victim, Inline: true},
	}
	if e.VictimShipName != "" {
		fields = append(fields, notifier.Field{Name: "Ship", Value: e.VictimShipName, Inline: true})
	}
	if e.VictimCorpName != "" {
		corp := e.VictimCorpName
		if e.VictimAllianceName != "" {
			corp += " / " + e.VictimAllianceName
		}
		fields = append(fields, notifier.Field{Name: "Corporation", Value: corp, Inline: true})
	}
	if e.Reference.TotalValue > 0 {
		fields = append(fields, notifier.Field{Name: "Value", Value: formatISK(e.Reference.TotalValue), Inline: true})
	}
	if e.FinalBlowName != "" {
		blow := e.FinalBlowName
		if e.FinalBlowShipName != "" {
			blow += " (" + e.FinalBlowShipName + ")"
		}
		fields = append(fields, notifier.Field{Name: "Final blow", Value: blow, Inline: true})
	}
	fields = append(fields, notifier.Field{
		Name:   "Attackers",
		Value:  strconv.Itoa(e.AttackerCount),
		Inline: true,
	})

	title := "Kill in " + system
	if e.Partial {
		title += " (partial data)"
	}

	return notifier.Notification{
		Kind:        notifier.KindKill,
		Fingerprint: fmt.Sprintf("kill:%d", e.Reference.KillmailID),
		Payload: notifier.WebhookPayload{
			Embeds: []notifier.Embed{{
				Title:  title,
				URL:    fmt.Sprintf("https://zkillboard.com/kill/%d/", e.Reference.KillmailID),
				Color:  notifier.ColorKill,
				Fields: fields,
			}},
		},
	}
}

// formatISK renders an ISK value in the usual short form.
func formatISK(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fb ISK", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fm ISK", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fk ISK", v/1e3)
	default:
		return fmt.Sprintf("%.0f ISK", v)
	}
}
