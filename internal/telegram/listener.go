package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/orchestrator"
)

// Submitter starts runs. *orchestrator.Supervisor implements it.
type Submitter interface {
	Submit(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.Ack, error)
}

// articlePatterns recognise Italian requests such as
// "scrivi un articolo sulla cassata siciliana".
var articlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)scrivi\s+(?:un\s+)?(?:articolo|pezzo)\s+(?:su|sul|sulla|sui|sugli|sulle|sullo|riguardo|circa)\s+(.+)`),
	regexp.MustCompile(`(?i)fammi\s+(?:un\s+)?(?:articolo|pezzo)\s+(?:su|sul|sulla|sui|sugli|sulle|sullo|riguardo|per)\s+(.+)`),
	regexp.MustCompile(`(?i)genera\s+(?:un\s+)?(?:articolo|contenuto)\s+(?:su|sul|sulla|sui|sugli|sulle|sullo|per)\s+(.+)`),
	regexp.MustCompile(`(?i)crea\s+(?:un\s+)?(?:articolo|pezzo)\s+(?:su|sul|sulla|sui|sugli|sulle|sullo|riguardo)\s+(.+)`),
	regexp.MustCompile(`(?i)vorrei\s+(?:un\s+)?(?:articolo|pezzo)\s+(?:su|sul|sulla|sui|sugli|sulle|sullo|riguardo)\s+(.+)`),
	regexp.MustCompile(`(?i)puoi\s+scrivere\s+(?:un\s+)?(?:articolo|qualcosa)\s+(?:su|sul|sulla|sui|sugli|sulle|sullo|riguardo)\s+(.+)`),
}

const helpText = `🍝 Ciao! Sono il bot di AllFoodSicily.

Posso generare bozze di articoli su argomenti food siciliani.

Comandi disponibili:
• /articolo <argomento> - genera un articolo su un argomento specifico
• /help - mostra questo messaggio

Oppure scrivi in linguaggio naturale:
• "Scrivi un articolo sulla cassata siciliana"
• "Fammi un pezzo sui cannoli di Piana degli Albanesi"
• "Vorrei un articolo sui pistacchi di Bronte"

🕐 Ogni mattina genero automaticamente bozze sulle ultime novità food siciliane.`

const usageText = "❌ Uso corretto: /articolo <argomento>\n\nEsempio: /articolo arancini di Catania"

const notUnderstoodText = "🤔 Non ho capito la richiesta. Prova con:\n\n" +
	"• /articolo <argomento>\n" +
	"• \"Scrivi un articolo su...\"\n" +
	"• \"Fammi un pezzo su...\"\n\n" +
	"Oppure usa /help per vedere tutti i comandi."

// ExtractTopic returns the requested topic from a natural-language message.
func ExtractTopic(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, pattern := range articlePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			topic := strings.TrimRight(strings.TrimSpace(m[1]), ".,!?;")
			if topic != "" {
				return topic, true
			}
		}
	}
	return "", false
}

// ListenerConfig configures the command listener.
type ListenerConfig struct {
	// AllowedChatID restricts commands to one chat; empty accepts all chats.
	AllowedChatID string
	PollTimeout   time.Duration
	ErrorBackoff  time.Duration
}

// CommandListener long-polls the Bot API and turns article requests into
// interactive runs.
type CommandListener struct {
	client    *Client
	submitter Submitter
	config    ListenerConfig
	logger    *slog.Logger
}

// NewCommandListener creates a listener.
func NewCommandListener(client *Client, submitter Submitter, config ListenerConfig, logger *slog.Logger) *CommandListener {
	if config.PollTimeout <= 0 {
		config.PollTimeout = 30 * time.Second
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = 5 * time.Second
	}
	return &CommandListener{client: client, submitter: submitter, config: config, logger: logger}
}

// Run polls until ctx is cancelled.
func (l *CommandListener) Run(ctx context.Context) error {
	l.logger.Info("telegram command listener started")
	var offset int64

	for {
		updates, err := l.client.GetUpdates(ctx, offset, l.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("telegram command listener stopped")
				return nil
			}
			l.logger.Warn("getUpdates failed", "kind", models.KindOf(err), "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.config.ErrorBackoff):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message != nil {
				l.HandleMessage(ctx, *update.Message)
			}
		}
	}
}

// HandleMessage answers one incoming message.
func (l *CommandListener) HandleMessage(ctx context.Context, msg Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if l.config.AllowedChatID != "" && chatID != l.config.AllowedChatID {
		l.logger.Warn("ignoring message from unknown chat", "chat_id", chatID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		command, args, _ := strings.Cut(text, " ")
		command, _, _ = strings.Cut(command, "@")

		switch strings.ToLower(command) {
		case "/start", "/help":
			l.reply(ctx, chatID, helpText)
		case "/articolo":
			topic := strings.TrimSpace(args)
			if topic == "" {
				l.reply(ctx, chatID, usageText)
				return
			}
			l.request(ctx, chatID, topic)
		default:
			l.reply(ctx, chatID, notUnderstoodText)
		}
		return
	}

	if topic, ok := ExtractTopic(text); ok {
		l.request(ctx, chatID, topic)
		return
	}
	l.reply(ctx, chatID, notUnderstoodText)
}

func (l *CommandListener) request(ctx context.Context, chatID, topic string) {
	ack, err := l.submitter.Submit(ctx, orchestrator.Trigger{
		Kind:   models.TriggerInteractive,
		Topic:  topic,
		Origin: "telegram:" + chatID,
	})
	if err != nil {
		l.logger.Warn("article request rejected", "topic", topic, "error", err)
		l.reply(ctx, chatID, fmt.Sprintf("❌ Richiesta non valida: %v", err))
		return
	}

	if !ack.Accepted {
		l.reply(ctx, chatID, "⏳ C'è già una generazione in corso. Riprova tra qualche minuto.")
		return
	}

	l.reply(ctx, chatID, fmt.Sprintf(
		"🔄 Sto lavorando...\n\nGenero un articolo su: %s\nRun: %s\n\n✍️ Scrittura articolo\n🎨 Creazione immagine\n📄 Invio documento",
		topic, ack.RunID,
	))
}

func (l *CommandListener) reply(ctx context.Context, chatID, text string) {
	if err := l.client.SendMessage(ctx, chatID, text); err != nil {
		l.logger.Warn("telegram reply failed", "chat_id", chatID, "error", err)
	}
}
