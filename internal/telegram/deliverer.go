package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/allfoodsicily/draftdesk/internal/delivery"
)

// Deliverer sends rendered artifacts to a fixed chat. It implements
// delivery.Backend.
type Deliverer struct {
	client *Client
	chatID string
	logger *slog.Logger
}

var _ delivery.Backend = (*Deliverer)(nil)

// NewDeliverer creates a deliverer for chatID.
func NewDeliverer(client *Client, chatID string, logger *slog.Logger) *Deliverer {
	return &Deliverer{client: client, chatID: chatID, logger: logger}
}

// SendArtifact uploads the document with its caption, then the illustration.
// The document is the deliverable; a failed photo upload is logged only so a
// retry never duplicates the document.
func (d *Deliverer) SendArtifact(ctx context.Context, artifact delivery.Artifact) error {
	if err := d.client.SendDocument(ctx, d.chatID, artifact.Filename, artifact.Document, artifact.Caption); err != nil {
		return err
	}

	if len(artifact.Illustration) == 0 {
		return nil
	}

	photoName := strings.TrimSuffix(artifact.Filename, ".md") + imageExtension(artifact.IllustrationMIME)
	if err := d.client.SendPhoto(ctx, d.chatID, photoName, artifact.Illustration, ""); err != nil {
		d.logger.Warn("illustration upload failed", "filename", photoName, "error", err)
	}
	return nil
}

// SendMessage implements delivery.Backend.
func (d *Deliverer) SendMessage(ctx context.Context, text string) error {
	return d.client.SendMessage(ctx, d.chatID, text)
}

func imageExtension(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
