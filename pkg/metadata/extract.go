// Package metadata flattens an inbound alert into the attribute map consumed
// by the template renderer.
package metadata

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-relay/pkg/color"
	"github.com/polisai/polis-relay/pkg/domain"
)

// Render context keys.
const (
	KeyAlias            = "alias"
	KeySummary          = "summary"
	KeyIssueIdentifier  = "issue_identifier"
	KeyExceptionClass   = "exception_class_name"
	KeyErrorMessage     = "full_error_message"
	KeyIssueURL         = "issue_url"
	KeyProjectID        = "project_id"
	KeyEnvironment      = "environment_name"
	KeyHostname         = "hostname"
	KeyCommitHash       = "commit_hash"
	KeyProjectBg        = "project_bg_color"
	KeyProjectFg        = "project_fg_color"
	KeyEnvironmentBg    = "environment_bg_color"
	KeyEnvironmentFg    = "environment_fg_color"
	KeyHostnameBg       = "hostname_bg_color"
	KeyHostnameFg       = "hostname_fg_color"
	KeyHeaderTemplate   = "header_template"
	KeyCurrentTimestamp = "current_timestamp"
	KeyCardID           = "card_element_id"
	KeyDetailID         = "detail_element_id"
	KeyActionID         = "action_element_id"
)

// Sentinel values for attributes absent from the payload.
const (
	Unknown             = "Unknown"
	UnknownErrorMessage = "Unknown error"
	DefaultCardTheme    = "red"

	TimestampLayout = "2006-01-02 15:04:05"

	issuePrefix = "View Issue "
)

// Field titles scanned in the first attachment.
const (
	fieldProject     = "Project"
	fieldEnvironment = "Environment"
	fieldServerName  = "Server Name"
	fieldRelease     = "Release"
)

var markdownLink = regexp.MustCompile(`^\[([^\]]*)\]\(([^)]*)\)`)

// RenderContext is the flattened attribute map for one alert.
type RenderContext map[string]string

// Options tune extraction. The zero value uses fixed colors, the default card
// theme, the wall clock and random identifiers.
type Options struct {
	HashColors bool
	// ColorMapping pins a tag value to a palette color name.
	ColorMapping map[string]string
	CardTheme    string

	Now   func() time.Time
	NewID func() string
}

// Extract derives the render context for alert.
func Extract(alert domain.Alert, opts Options) RenderContext {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = randomID
	}

	rc := RenderContext{
		KeyAlias:            alert.Alias,
		KeySummary:          alert.Text,
		KeyIssueIdentifier:  issueIdentifier(alert.Sections),
		KeyExceptionClass:   Unknown,
		KeyErrorMessage:     UnknownErrorMessage,
		KeyIssueURL:         "",
		KeyProjectID:        Unknown,
		KeyEnvironment:      Unknown,
		KeyHostname:         Unknown,
		KeyCommitHash:       Unknown,
		KeyHeaderTemplate:   DefaultCardTheme,
		KeyCurrentTimestamp: now().UTC().Format(TimestampLayout),
		KeyCardID:           newID(),
		KeyDetailID:         newID(),
		KeyActionID:         newID(),
	}
	if opts.CardTheme != "" {
		rc[KeyHeaderTemplate] = opts.CardTheme
	}

	if len(alert.Attachments) > 0 {
		first := alert.Attachments[0]
		rc[KeyExceptionClass] = exceptionClass(first.Title)
		if first.Title != "" {
			rc[KeyErrorMessage] = first.Title
		}
		rc[KeyIssueURL] = first.TitleLink

		wanted := map[string]string{
			fieldProject:     KeyProjectID,
			fieldEnvironment: KeyEnvironment,
			fieldServerName:  KeyHostname,
			fieldRelease:     KeyCommitHash,
		}
		for _, f := range first.Fields {
			key, ok := wanted[f.Title]
			if !ok {
				continue
			}
			rc[key] = f.Value
			delete(wanted, f.Title)
		}
	}

	project, env, host := color.FixedProject, color.FixedEnvironment, color.FixedHost
	if opts.HashColors {
		project = color.For(rc[KeyProjectID])
		env = color.For(rc[KeyEnvironment])
		host = color.For(rc[KeyHostname])
	}
	project = mapped(opts.ColorMapping, rc[KeyProjectID], project)
	env = mapped(opts.ColorMapping, rc[KeyEnvironment], env)
	host = mapped(opts.ColorMapping, rc[KeyHostname], host)

	rc[KeyProjectBg], rc[KeyProjectFg] = project.Background, project.Foreground
	rc[KeyEnvironmentBg], rc[KeyEnvironmentFg] = env.Background, env.Foreground
	rc[KeyHostnameBg], rc[KeyHostnameFg] = host.Background, host.Foreground

	return rc
}

func issueIdentifier(sections []domain.Section) string {
	if len(sections) == 0 {
		return Unknown
	}
	rest := strings.TrimPrefix(sections[0].ActivitySubtitle, issuePrefix)
	if m := markdownLink.FindStringSubmatch(rest); m != nil {
		return m[1]
	}
	return rest
}

func exceptionClass(title string) string {
	class, _, _ := strings.Cut(title, ":")
	class = strings.TrimSpace(class)
	if class == "" {
		return Unknown
	}
	return class
}

func mapped(mapping map[string]string, value string, fallback color.Pair) color.Pair {
	name, ok := mapping[value]
	if !ok {
		return fallback
	}
	if p, ok := color.Named(name); ok {
		return p
	}
	return fallback
}

// randomID returns 16 hex characters; Feishu element ids are limited to 20.
func randomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
