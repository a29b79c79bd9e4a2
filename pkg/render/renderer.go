// Package render turns a metadata.RenderContext into a Feishu message.
//
// Rendering walks three tiers: an override template file, the embedded
// default template, and finally a minimal card built directly in Go. The last
// tier performs no I/O and no parsing, so Render always returns a message.
package render

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/polisai/polis-relay/pkg/domain"
	"github.com/polisai/polis-relay/pkg/feishu"
	"github.com/polisai/polis-relay/pkg/metadata"
)

// TemplateFile is the file name looked up inside an override directory.
const TemplateFile = "feishu_card.tmpl"

//go:embed templates/feishu_card.tmpl
var defaultTemplate string

// Tier identifies which rendering path produced a message.
type Tier string

const (
	TierOverride Tier = "override"
	TierEmbedded Tier = "embedded"
	TierMinimal  Tier = "minimal"
)

// Result is a rendered message plus the tier that produced it.
type Result struct {
	Message feishu.Message
	Tier    Tier
	// OverrideErr is why the override template was not used. It wraps
	// fs.ErrNotExist when the directory holds no template file.
	OverrideErr error
}

// Options configure a Renderer.
type Options struct {
	// EmbeddedSource replaces the built-in template. Empty uses the default.
	EmbeddedSource string
	Logger         *slog.Logger
}

// Renderer renders Feishu cards. It is safe for concurrent use.
type Renderer struct {
	embedded    *template.Template
	embeddedErr error
	logger      *slog.Logger
}

// New parses the embedded template. A parse failure is not returned; it
// surfaces at render time as a fall through to the minimal card.
func New(opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := opts.EmbeddedSource
	if src == "" {
		src = defaultTemplate
	}

	r := &Renderer{logger: logger}
	r.embedded, r.embeddedErr = parse("embedded", src)
	if r.embeddedErr != nil {
		logger.Error("embedded card template does not parse", "error", r.embeddedErr)
	}
	return r
}

// Render produces an interactive card for rc. templateDir may be empty.
func (r *Renderer) Render(templateDir string, rc metadata.RenderContext) Result {
	var overrideErr error
	if templateDir != "" {
		card, err := r.renderOverride(templateDir, rc)
		if err == nil {
			return Result{Message: feishu.NewCardMessage(card), Tier: TierOverride}
		}
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("override template failed, using embedded template",
				"dir", templateDir, "error", err)
		}
		overrideErr = err
	}

	if r.embeddedErr == nil {
		card, err := execute(r.embedded, rc)
		if err == nil {
			return Result{Message: feishu.NewCardMessage(card), Tier: TierEmbedded, OverrideErr: overrideErr}
		}
		r.logger.Error("embedded template failed, using minimal card", "error", err)
	}

	return Result{Message: feishu.NewCardMessage(Minimal(rc)), Tier: TierMinimal, OverrideErr: overrideErr}
}

// FellBack reports whether a configured template path failed. A missing
// override file is not a failure.
func (res Result) FellBack() bool {
	if res.Tier == TierMinimal {
		return true
	}
	return res.OverrideErr != nil && !errors.Is(res.OverrideErr, fs.ErrNotExist)
}

func (r *Renderer) renderOverride(dir string, rc metadata.RenderContext) (json.RawMessage, error) {
	path := filepath.Join(dir, TemplateFile)
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("no override template", "path", path)
		}
		return nil, err
	}
	tmpl, err := parse(path, string(src))
	if err != nil {
		return nil, err
	}
	return execute(tmpl, rc)
}

func parse(name, src string) (*template.Template, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"json": jsonString}).
		Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrRenderFailed, name, err)
	}
	return tmpl, nil
}

func execute(tmpl *template.Template, rc metadata.RenderContext) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string(rc)); err != nil {
		return nil, fmt.Errorf("%w: execute %s: %v", domain.ErrRenderFailed, tmpl.Name(), err)
	}
	doc, err := ParseDocument(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrRenderFailed, tmpl.Name(), err)
	}
	return doc.Card, nil
}

// jsonString quotes s as a JSON string literal.
func jsonString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
