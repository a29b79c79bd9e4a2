// Package feishu defines the Feishu (Lark) custom bot message envelope.
package feishu

import (
	"fmt"
	"strings"

	"github.com/polisai/polis-relay/pkg/domain"
)

// MsgType is the envelope discriminator understood by the bot API.
type MsgType string

const (
	MsgInteractive MsgType = "interactive"
	MsgText        MsgType = "text"
	MsgPost        MsgType = "post"
)

// Message is the body POSTed to a Feishu bot webhook.
type Message struct {
	MsgType MsgType  `json:"msg_type"`
	Content *Content `json:"content,omitempty"`
	// Card holds any JSON-marshalable card document.
	Card any `json:"card,omitempty"`
}

// Content carries text or rich-text payloads.
type Content struct {
	Text string `json:"text,omitempty"`
	Post *Post  `json:"post,omitempty"`
}

// Post is a rich-text message.
type Post struct {
	ZhCN PostContent `json:"zh_cn"`
}

// PostContent is one localized rich-text body.
type PostContent struct {
	Title   string          `json:"title,omitempty"`
	Content [][]PostElement `json:"content"`
}

// PostElement is a single inline element of a post.
type PostElement struct {
	Tag    string `json:"tag"`
	Text   string `json:"text,omitempty"`
	Href   string `json:"href,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// NewCardMessage wraps a card document in an interactive envelope.
func NewCardMessage(card any) Message {
	return Message{MsgType: MsgInteractive, Card: card}
}

// NewTextMessage renders alert as a plain text message.
func NewTextMessage(alert domain.Alert) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 **%s**\n\n", alert.Alias)

	if len(alert.Attachments) > 0 {
		fmt.Fprintf(&b, "**错误**: %s\n\n", alert.Attachments[0].Title)
	}
	for _, a := range alert.Attachments {
		for _, f := range a.Fields {
			fmt.Fprintf(&b, "**%s**: %s\n", f.Title, f.Value)
		}
	}
	if len(alert.Attachments) > 0 && alert.Attachments[0].TitleLink != "" {
		fmt.Fprintf(&b, "\n🔗 [查看详情](%s)", alert.Attachments[0].TitleLink)
	}

	return Message{MsgType: MsgText, Content: &Content{Text: b.String()}}
}

// NewPostMessage renders alert as a rich-text post.
func NewPostMessage(alert domain.Alert) Message {
	post := PostContent{
		Title:   alert.Alias + " - 错误通知",
		Content: [][]PostElement{},
	}

	if len(alert.Attachments) > 0 {
		first := alert.Attachments[0]
		post.Content = append(post.Content, []PostElement{
			{Tag: "text", Text: fmt.Sprintf("**错误**: %s\n", first.Title)},
		})

		var fields []PostElement
		for _, f := range first.Fields {
			fields = append(fields, PostElement{Tag: "text", Text: fmt.Sprintf("**%s**: %s\n", f.Title, f.Value)})
		}
		if first.TitleLink != "" {
			fields = append(fields, PostElement{Tag: "a", Text: "查看详情", Href: first.TitleLink})
		}
		if len(fields) > 0 {
			post.Content = append(post.Content, fields)
		}
	}

	return Message{MsgType: MsgPost, Content: &Content{Post: &Post{ZhCN: post}}}
}
