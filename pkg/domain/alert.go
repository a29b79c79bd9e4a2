package domain

// Alert is the inbound GlitchTip webhook payload (Slack-compatible format).
type Alert struct {
	Alias       string       `json:"alias"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	Sections    []Section    `json:"sections"`
}

// Attachment carries the error details of an alert.
type Attachment struct {
	Color      string   `json:"color"`
	Title      string   `json:"title"`
	TitleLink  string   `json:"title_link"`
	Text       string   `json:"text,omitempty"`
	ImageURL   string   `json:"image_url,omitempty"`
	MarkdownIn []string `json:"mrkdown_in,omitempty"`
	Fields     []Field  `json:"fields"`
}

// Field is a titled value inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Section is an activity section; the subtitle usually embeds a markdown link.
type Section struct {
	ActivityTitle    string `json:"activityTitle"`
	ActivitySubtitle string `json:"activitySubtitle"`
}
