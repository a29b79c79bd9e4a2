package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/polisai/polis-relay/pkg/metadata"
)

// Shape distinguishes wrapper documents from bare cards.
type Shape int

const (
	// ShapeBare is a document that is itself the card.
	ShapeBare Shape = iota
	// ShapeWrapped is a document carrying the card under a "dsl" key.
	ShapeWrapped
)

func (s Shape) String() string {
	if s == ShapeWrapped {
		return "wrapped"
	}
	return "bare"
}

// Document is a rendered template output resolved to its card.
type Document struct {
	Shape Shape
	Card  json.RawMessage
}

const wrapperKey = "dsl"

// ParseDocument validates data as a JSON object and resolves its shape once.
func ParseDocument(data []byte) (Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Document{}, fmt.Errorf("rendered output is not a JSON object: %w", err)
	}

	inner, ok := top[wrapperKey]
	if !ok {
		return Document{Shape: ShapeBare, Card: json.RawMessage(bytes.TrimSpace(data))}, nil
	}
	inner = bytes.TrimSpace(inner)
	if len(inner) == 0 || inner[0] != '{' {
		return Document{}, errors.New(`"dsl" must be a JSON object`)
	}
	return Document{Shape: ShapeWrapped, Card: inner}, nil
}

// MinimalCard is the terminal fallback card.
type MinimalCard struct {
	Schema string        `json:"schema"`
	Header MinimalHeader `json:"header"`
	Body   MinimalBody   `json:"body"`
}

type MinimalHeader struct {
	Title    TextObject `json:"title"`
	Template string     `json:"template"`
}

type MinimalBody struct {
	Elements []MarkdownElement `json:"elements"`
}

type TextObject struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type MarkdownElement struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// Minimal builds the fallback card from the exception class, the error
// message and the issue identifier. It cannot fail.
func Minimal(rc metadata.RenderContext) MinimalCard {
	class := valueOr(rc, metadata.KeyExceptionClass, metadata.Unknown)
	message := valueOr(rc, metadata.KeyErrorMessage, metadata.UnknownErrorMessage)
	issue := valueOr(rc, metadata.KeyIssueIdentifier, metadata.Unknown)

	return MinimalCard{
		Schema: "2.0",
		Header: MinimalHeader{
			Title:    TextObject{Tag: "plain_text", Content: class},
			Template: metadata.DefaultCardTheme,
		},
		Body: MinimalBody{Elements: []MarkdownElement{
			{Tag: "markdown", Content: message},
			{Tag: "markdown", Content: "Issue: " + issue},
		}},
	}
}

func valueOr(rc metadata.RenderContext, key, fallback string) string {
	if v := rc[key]; v != "" {
		return v
	}
	return fallback
}
