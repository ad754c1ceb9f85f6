package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/retry"
)

// TextGenerator drafts article text for a topic.
type TextGenerator interface {
	GenerateText(ctx context.Context, topic models.Topic, prompt string) (string, error)
}

// ImageGenerator renders an illustration from a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// Image is a rendered illustration.
type Image struct {
	Data []byte
	MIME string
}

// IllustrationPolicy decides what happens to a draft whose illustration failed.
type IllustrationPolicy string

const (
	// IllustrationTextOnly delivers the draft without an image, flagged as degraded.
	IllustrationTextOnly IllustrationPolicy = "text_only"
	// IllustrationDrop discards the draft.
	IllustrationDrop IllustrationPolicy = "drop"
)

// ParseIllustrationPolicy validates a configured policy name.
func ParseIllustrationPolicy(value string) (IllustrationPolicy, error) {
	switch p := IllustrationPolicy(strings.ToLower(strings.TrimSpace(value))); p {
	case "", IllustrationTextOnly:
		return IllustrationTextOnly, nil
	case IllustrationDrop:
		return IllustrationDrop, nil
	default:
		return "", fmt.Errorf("unknown illustration failure policy %q", value)
	}
}

// GeneratorConfig holds configuration for single-item generation.
type GeneratorConfig struct {
	MinWords           int
	MaxWords           int
	IllustrationPolicy IllustrationPolicy
	RetryPolicy        retry.Policy
}

// DefaultGeneratorConfig returns sensible defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinWords:           500,
		MaxWords:           800,
		IllustrationPolicy: IllustrationTextOnly,
		RetryPolicy:        retry.DefaultPolicy(),
	}
}

// Result is the outcome of generating one topic. Item is nil when nothing
// deliverable was produced; Failures may be non-empty even when Item is set.
type Result struct {
	Topic    models.Topic
	Item     *models.GeneratedItem
	Failures []models.FailureRecord
}

// Generator produces a draft and its illustration for one topic.
type Generator struct {
	text   TextGenerator
	image  ImageGenerator
	config GeneratorConfig
	logger *slog.Logger
}

// NewGenerator creates a generator. A nil image generator disables
// illustrations without marking items as degraded.
func NewGenerator(text TextGenerator, image ImageGenerator, config GeneratorConfig, logger *slog.Logger) *Generator {
	if config.IllustrationPolicy == "" {
		config.IllustrationPolicy = IllustrationTextOnly
	}
	return &Generator{text: text, image: image, config: config, logger: logger}
}

// Generate drafts the article, then illustrates it. A text failure skips the
// illustration; an illustration failure never discards the text unless the
// policy says so.
func (g *Generator) Generate(ctx context.Context, topic models.Topic) Result {
	result := Result{Topic: topic}
	logger := g.logger.With("topic", topic.Title)

	prompt := ArticlePrompt(topic, g.config.MinWords, g.config.MaxWords)
	draft, err := retry.Do(ctx, g.config.RetryPolicy, "generate text", func(ctx context.Context) (string, error) {
		text, err := g.text.GenerateText(ctx, topic, prompt)
		if err != nil {
			return "", err
		}
		text = cleanDraft(text)
		if text == "" {
			return "", models.NewError(models.ErrorKindMalformed, "generate text", errors.New("empty draft"))
		}
		return text, nil
	})
	if err != nil {
		logger.Warn("draft generation failed", "kind", models.KindOf(err), "error", err)
		result.Failures = append(result.Failures, failure(models.StageGenerateText, topic, err))
		return result
	}

	draft, words := trimWords(draft, g.config.MaxWords)
	if words < g.config.MinWords {
		logger.Info("draft shorter than requested", "words", words, "min_words", g.config.MinWords)
	}

	item := &models.GeneratedItem{
		Topic:      topic,
		Draft:      draft,
		WordCount:  words,
		SourceURLs: topic.SourceURLs(),
	}

	if g.image == nil {
		result.Item = item
		return result
	}

	imagePrompt := ImagePrompt(topic, draft)
	img, err := retry.Do(ctx, g.config.RetryPolicy, "generate image", func(ctx context.Context) (Image, error) {
		img, err := g.image.GenerateImage(ctx, imagePrompt)
		if err != nil {
			return Image{}, err
		}
		if len(img.Data) == 0 {
			return Image{}, models.NewError(models.ErrorKindMalformed, "generate image", errors.New("empty image"))
		}
		return img, nil
	})
	if err != nil {
		logger.Warn("illustration failed",
			"kind", models.KindOf(err),
			"policy", g.config.IllustrationPolicy,
			"error", err,
		)
		result.Failures = append(result.Failures, failure(models.StageGenerateImage, topic, err))
		if g.config.IllustrationPolicy == IllustrationDrop {
			return result
		}
		item.Degraded = true
		result.Item = item
		return result
	}

	item.Illustration = img.Data
	item.IllustrationMIME = img.MIME
	if item.IllustrationMIME == "" {
		item.IllustrationMIME = http.DetectContentType(img.Data)
	}

	logger.Info("item generated", "words", words, "image_bytes", len(img.Data))
	result.Item = item
	return result
}

func failure(stage models.Stage, topic models.Topic, err error) models.FailureRecord {
	return models.FailureRecord{
		Stage:    stage,
		Identity: topic.Title,
		Kind:     models.KindOf(err),
		Message:  err.Error(),
	}
}

var (
	fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```\\s*$")
	wordsRe = regexp.MustCompile(`\S+`)
)

// cleanDraft trims whitespace and unwraps a draft the model fenced as a code block.
func cleanDraft(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	return text
}

// countWords counts whitespace-separated words.
func countWords(text string) int {
	return len(strings.Fields(text))
}

// trimWords cuts text after max words, keeping the original formatting of
// what remains. max <= 0 disables trimming.
func trimWords(text string, max int) (string, int) {
	if max <= 0 {
		return text, countWords(text)
	}
	locs := wordsRe.FindAllStringIndex(text, max+1)
	if len(locs) <= max {
		return text, len(locs)
	}
	return strings.TrimRight(text[:locs[max-1][1]], " \t\n") + "…", max
}
