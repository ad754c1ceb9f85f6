package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/selection"
)

// MaxTopicLength bounds the text of an interactive request.
const MaxTopicLength = 200

// ErrBusy is returned by Run when another run holds the lock.
var ErrBusy = models.NewError(models.ErrorKindBusy, "run", errors.New("a run is already in progress"))

// Trigger is a request to start a run.
type Trigger struct {
	Kind   models.TriggerKind
	Topic  string // interactive runs only
	Origin string // e.g. "scheduler", "telegram:42", "api"
}

// Validate checks that the trigger is well formed.
func (t Trigger) Validate() error {
	switch t.Kind {
	case models.TriggerScheduled:
		if strings.TrimSpace(t.Topic) != "" {
			return models.NewError(models.ErrorKindMalformed, "trigger", errors.New("scheduled runs take no topic"))
		}
	case models.TriggerInteractive:
		topic := strings.TrimSpace(t.Topic)
		if topic == "" {
			return models.NewError(models.ErrorKindMalformed, "trigger", errors.New("topic is required"))
		}
		if utf8.RuneCountInString(topic) > MaxTopicLength {
			return models.NewError(models.ErrorKindMalformed, "trigger", fmt.Errorf("topic longer than %d characters", MaxTopicLength))
		}
	default:
		return models.NewError(models.ErrorKindMalformed, "trigger", fmt.Errorf("unknown trigger kind %q", t.Kind))
	}
	return nil
}

// Ack answers a submitted trigger. Accepted is false when the supervisor was
// busy; the trigger is then dropped, never queued.
type Ack struct {
	Accepted bool
	RunID    string
}

// AdHocTopic builds the single topic of an interactive run.
func AdHocTopic(request string) models.Topic {
	request = strings.TrimSpace(request)
	return models.Topic{
		ID:       "adhoc-" + uuid.NewString(),
		Title:    request,
		Summary:  "Articolo su richiesta: " + request,
		Keywords: selection.RequestKeywords(request),
		AdHoc:    true,
	}
}
