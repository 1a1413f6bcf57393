package webhooks

// Slack and Microsoft Teams payload shapes for endpoints registered with
// FormatSlack or FormatTeams.

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// TeamsMessage represents a Microsoft Teams webhook message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary,omitempty"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text,omitempty"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

// TeamsSection represents a section in a Teams message
type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Text          string      `json:"text,omitempty"`
}

// TeamsFact represents a fact in a Teams section
type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormatSlackMessage formats an event as a Slack message
func FormatSlackMessage(event *Event) SlackMessage {
	fields := []SlackField{
		{Title: "Event Type", Value: string(event.Type), Short: true},
		{Title: "Event ID", Value: event.ID, Short: true},
		{Title: "Timestamp", Value: event.Timestamp.Format("2006-01-02 15:04:05"), Short: true},
	}
	fields = append(fields, eventSlackFields(event)...)

	return SlackMessage{
		Attachments: []SlackAttachment{
			{
				Color:  getEventColor(event.Type),
				Title:  getEventTitle(event.Type),
				Fields: fields,
			},
		},
	}
}

func eventSlackFields(event *Event) []SlackField {
	var fields []SlackField
	if node, ok := event.Data["node_id"].(string); ok {
		fields = append(fields, SlackField{Title: "Node", Value: node, Short: true})
	}
	if org, ok := event.Data["org_id"].(string); ok {
		fields = append(fields, SlackField{Title: "Organization", Value: org, Short: true})
	}
	if version, ok := event.Data["version"].(string); ok {
		fields = append(fields, SlackField{Title: "Config Version", Value: version, Short: true})
	}
	if reason, ok := event.Data["reason"].(string); ok {
		fields = append(fields, SlackField{Title: "Reason", Value: reason, Short: false})
	}
	return fields
}

// FormatTeamsMessage formats an event as a Microsoft Teams message
func FormatTeamsMessage(event *Event) TeamsMessage {
	facts := []TeamsFact{
		{Name: "Event Type", Value: string(event.Type)},
		{Name: "Event ID", Value: event.ID},
		{Name: "Timestamp", Value: event.Timestamp.Format("2006-01-02 15:04:05")},
	}
	if node, ok := event.Data["node_id"].(string); ok {
		facts = append(facts, TeamsFact{Name: "Node", Value: node})
	}
	if org, ok := event.Data["org_id"].(string); ok {
		facts = append(facts, TeamsFact{Name: "Organization", Value: org})
	}

	var text string
	if reason, ok := event.Data["reason"].(string); ok {
		text = reason
	}

	title := getEventTitle(event.Type)
	return TeamsMessage{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    title,
		Title:      title,
		ThemeColor: getEventThemeColor(event.Type),
		Sections: []TeamsSection{
			{
				Facts: facts,
				Text:  text,
			},
		},
	}
}

// getEventColor returns the Slack color for an event type
func getEventColor(eventType EventType) string {
	switch eventType {
	case EventNodeCreated, EventProvisioningCompleted:
		return "good" // Green
	case EventProvisioningFailed, EventTokenRevoked:
		return "danger" // Red
	case EventTokenIssued:
		return "warning" // Yellow
	default:
		return "#439FE0" // Blue
	}
}

// getEventThemeColor returns the Teams theme color for an event type
func getEventThemeColor(eventType EventType) string {
	switch eventType {
	case EventNodeCreated, EventProvisioningCompleted:
		return "28a745" // Green
	case EventProvisioningFailed, EventTokenRevoked:
		return "dc3545" // Red
	case EventTokenIssued:
		return "ffc107" // Yellow
	default:
		return "007bff" // Blue
	}
}

// getEventTitle returns a human-readable title for an event type
func getEventTitle(eventType EventType) string {
	switch eventType {
	case EventNodeCreated:
		return "Node Created"
	case EventConfigUpdated:
		return "Configuration Updated"
	case EventTokenIssued:
		return "Token Issued"
	case EventTokenRevoked:
		return "Token Revoked"
	case EventProvisioningCompleted:
		return "Provisioning Completed"
	case EventProvisioningFailed:
		return "Provisioning Failed"
	default:
		return string(eventType)
	}
}
