package generation

import (
	"fmt"
	"strings"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

const systemPrompt = "Sei un giornalista gastronomico di AllFoodSicily. Scrivi in italiano, " +
	"con tono professionale ma accessibile, per un pubblico appassionato di cibo siciliano."

// maxContextItems bounds how many source items are quoted in a prompt.
const maxContextItems = 8

// ArticlePrompt builds the drafting prompt for a topic.
func ArticlePrompt(topic models.Topic, minWords, maxWords int) string {
	var b strings.Builder

	b.WriteString("Scrivi una bozza di articolo per AllFoodSicily sul seguente topic.\n\n")
	fmt.Fprintf(&b, "Titolo: %s\n", topic.Title)
	if topic.Summary != "" {
		fmt.Fprintf(&b, "Angolo editoriale: %s\n", topic.Summary)
	}
	if len(topic.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(topic.Keywords, ", "))
	}

	if len(topic.Items) > 0 {
		b.WriteString("\n=== FONTI ===\n")
		for i, item := range topic.Items {
			if i == maxContextItems {
				break
			}
			fmt.Fprintf(&b, "%d. %s (%s)\n   URL: %s\n", i+1, item.Title, item.Source, item.URL)
			if item.Body != "" {
				fmt.Fprintf(&b, "   Contenuto: %s\n", clip(item.Body, 500))
			}
		}
	}

	b.WriteString("\nRequisiti dell'articolo:\n")
	fmt.Fprintf(&b, "- Lunghezza: %d-%d parole\n", minWords, maxWords)
	b.WriteString("- Struttura: introduzione accattivante, corpo informativo con dettagli, conclusione con riflessione\n")
	b.WriteString("- Cita le fonti originali quando appropriato\n")
	b.WriteString("- Ottimizzato SEO per keywords siciliane e gastronomiche\n")
	b.WriteString("- Formato: Markdown con titoli e paragrafi\n\n")
	b.WriteString("Scrivi l'articolo completo in formato Markdown.")

	return b.String()
}

// ImagePrompt derives the illustration prompt from the topic and the opening
// of the draft.
func ImagePrompt(topic models.Topic, draft string) string {
	subject := topic.Title
	if len(topic.Keywords) > 0 {
		subject += " (" + strings.Join(topic.Keywords, ", ") + ")"
	}

	return fmt.Sprintf(
		"Professional food photography for a Sicilian food magazine article. Subject: %s. "+
			"Context: %s. Natural light, shallow depth of field, editorial composition, "+
			"Sicilian setting where appropriate. No text, no logos, no people's faces.",
		subject, clip(firstParagraph(draft), 400),
	)
}

func firstParagraph(draft string) string {
	for _, para := range strings.Split(draft, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") {
			continue
		}
		return strings.Join(strings.Fields(para), " ")
	}
	return ""
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
