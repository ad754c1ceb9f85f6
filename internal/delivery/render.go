package delivery

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

const (
	documentMIME    = "text/markdown; charset=utf-8"
	maxCaptionRunes = 1024
	maxFilenameLen  = 50
	filenamePrefix  = "AllFoodSicily_"
)

// Artifact is one rendered draft ready to hand to a backend.
type Artifact struct {
	Filename         string
	Caption          string
	Document         []byte
	DocumentMIME     string
	Illustration     []byte
	IllustrationMIME string
}

var documentTemplate = template.Must(template.New("document").Parse(
	`{{if not .StartsWithHeading}}# {{.Title}}

{{end}}{{.Draft}}

---

_Bozza generata il {{.Date}} · {{.WordCount}} parole{{if .Degraded}} · senza immagine{{end}}_
{{if .Keywords}}
Keywords: {{.Keywords}}
{{end}}
## Fonti
{{range .Sources}}
- {{if .Name}}{{.Name}}: {{end}}{{if .Title}}{{.Title}} {{end}}{{.URL}}{{end}}
`))

var summaryTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(
	`🍝 Workflow {{.TriggerLabel}} AllFoodSicily
{{.StatusEmoji}} Stato: {{.State}}{{if .Topic}}
📌 Richiesta: {{.Topic}}{{end}}
🆔 Run: {{.RunID}}
🕐 {{.Started}}{{if .Duration}} ({{.Duration}}){{end}}

🔗 Fonti: {{.Counts.SourcesAttempted}} monitorate, {{.Counts.SourcesFailed}} in errore
🧭 Topic selezionati: {{.Counts.TopicsSelected}}
📝 Articoli generati: {{.Counts.ItemsGenerated}}, falliti: {{.Counts.ItemsFailed}}
📤 Articoli consegnati: {{.Counts.ItemsDelivered}}
{{if .Failures}}
⚠️ Errori ({{len .Failures}}):
{{range $i, $f := .Failures}}{{inc $i}}. [{{$f.Stage}}] {{$f.Identity}}: {{$f.Kind}}{{if $f.Message}} ({{$f.Message}}){{end}}
{{end}}{{else}}
Nessun errore.
{{end}}`))

type sourceLine struct {
	Name, Title, URL string
}

type documentData struct {
	Title             string
	Draft             string
	Date              string
	WordCount         int
	Degraded          bool
	Keywords          string
	Sources           []sourceLine
	StartsWithHeading bool
}

type summaryData struct {
	models.RunReport
	TriggerLabel string
	StatusEmoji  string
	Started      string
	Duration     string
	Failures     []models.FailureRecord
}

// Renderer turns generated items and run reports into deliverable text.
type Renderer struct {
	Location *time.Location
	Now      func() time.Time
}

// NewRenderer creates a renderer that formats dates in loc.
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{Location: loc, Now: time.Now}
}

// Artifact renders one item as a Markdown document with caption and filename.
// The document lists every source so provenance survives delivery.
func (r *Renderer) Artifact(item models.GeneratedItem) (Artifact, error) {
	data := documentData{
		Title:             item.Topic.Title,
		Draft:             item.Draft,
		Date:              r.Now().In(r.Location).Format("02/01/2006"),
		WordCount:         item.WordCount,
		Degraded:          item.Degraded,
		Keywords:          strings.Join(item.Topic.Keywords, ", "),
		Sources:           sourceLines(item),
		StartsWithHeading: strings.HasPrefix(strings.TrimSpace(item.Draft), "#"),
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return Artifact{}, fmt.Errorf("render document: %w", err)
	}

	return Artifact{
		Filename:         SanitizeFilename(filenamePrefix + item.Topic.Title + ".md"),
		Caption:          Caption(item),
		Document:         buf.Bytes(),
		DocumentMIME:     documentMIME,
		Illustration:     item.Illustration,
		IllustrationMIME: item.IllustrationMIME,
	}, nil
}

// Summary renders the end-of-run report.
func (r *Renderer) Summary(report models.RunReport) (string, error) {
	data := summaryData{
		RunReport:    report,
		TriggerLabel: "automatico",
		StatusEmoji:  "✅",
		Started:      report.StartedAt.In(r.Location).Format("02/01/2006 15:04"),
		Failures:     shortenFailures(report.Failures),
	}
	if report.Trigger == models.TriggerInteractive {
		data.TriggerLabel = "su richiesta"
	}
	if report.State == models.RunStateFailed || len(report.Failures) > 0 {
		data.StatusEmoji = "⚠️"
	}
	if report.State == models.RunStateFailed {
		data.StatusEmoji = "❌"
	}
	if d := report.Duration(); d > 0 {
		data.Duration = d.Round(time.Second).String()
	}

	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	return buf.String(), nil
}

// Caption is the short message attached to a delivered document.
func Caption(item models.GeneratedItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 %s\n\n📊 %d parole", item.Topic.Title, item.WordCount)
	if len(item.Topic.Keywords) > 0 {
		keywords := item.Topic.Keywords
		if len(keywords) > 3 {
			keywords = keywords[:3]
		}
		fmt.Fprintf(&b, "\n🏷️ %s", strings.Join(keywords, ", "))
	}
	if n := len(item.SourceURLs); n > 0 {
		fmt.Fprintf(&b, "\n🔗 %d fonti", n)
	}
	if item.Degraded {
		b.WriteString("\n🎨 immagine non disponibile")
	}
	return clipRunes(b.String(), maxCaptionRunes)
}

var unsafeFilenameRe = regexp.MustCompile(`[^\w\-.]`)

// SanitizeFilename keeps letters, digits, '_', '-' and '.', turns spaces into
// underscores and caps the name at 50 bytes, preserving the extension.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	name = unsafeFilenameRe.ReplaceAllString(name, "")
	if len(name) <= maxFilenameLen {
		return name
	}

	ext := ""
	if i := strings.LastIndex(name, "."); i > 0 && len(name)-i <= 6 {
		ext = name[i:]
		name = name[:i]
	}
	return name[:maxFilenameLen-len(ext)] + ext
}

func sourceLines(item models.GeneratedItem) []sourceLine {
	var lines []sourceLine
	seen := make(map[string]struct{})
	for _, raw := range item.Topic.Items {
		if raw.URL == "" {
			continue
		}
		if _, dup := seen[raw.URL]; dup {
			continue
		}
		seen[raw.URL] = struct{}{}
		lines = append(lines, sourceLine{Name: raw.Source, Title: raw.Title, URL: raw.URL})
	}
	for _, url := range item.SourceURLs {
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		lines = append(lines, sourceLine{URL: url})
	}
	return lines
}

func shortenFailures(failures []models.FailureRecord) []models.FailureRecord {
	out := make([]models.FailureRecord, len(failures))
	for i, f := range failures {
		f.Message = clipRunes(f.Message, 120)
		out[i] = f
	}
	return out
}

func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
