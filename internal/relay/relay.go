package relay

import (
	"log/slog"

	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/protocol"
	"github.com/loqalabs/loqa-caption/internal/session"
	"github.com/nats-io/nats.go"
)

// Clearer is the part of the session store a remote clear needs.
type Clearer interface {
	Clear()
	SessionID() string
}

// Relay mirrors session store changes onto the bus and accepts remote
// clear requests on caption.ctrl.clear.
type Relay struct {
	bus   *bus.Client
	store Clearer
	log   *slog.Logger
	sub   *nats.Subscription
}

func New(client *bus.Client, store Clearer, log *slog.Logger) (*Relay, error) {
	r := &Relay{
		bus:   client,
		store: store,
		log:   log.With(slog.String("component", "relay")),
	}
	sub, err := client.Conn().Subscribe(protocol.SubjectControlClear, r.handleClear)
	if err != nil {
		return nil, err
	}
	r.sub = sub
	return r, nil
}

// Listener publishes each store change. Register it with Store.OnChange.
func (r *Relay) Listener() session.Listener {
	return r.publish
}

func (r *Relay) publish(change session.Change) {
	var (
		subject string
		payload any
	)
	switch change.Kind {
	case session.ChangeDraft:
		subject = protocol.SubjectCaptionDraft
		payload = protocol.CaptionDraft{
			SessionID:          change.SessionID,
			SourceText:         change.Draft.SourceText,
			TranslatedText:     change.Draft.TranslatedText,
			TranslationPending: change.Draft.TranslationPending,
			Timestamp:          change.At,
		}
	case session.ChangeCommit:
		subject = protocol.SubjectCaptionCommit
		payload = protocol.CaptionCommit{
			SessionID:      change.SessionID,
			UtteranceID:    change.Utterance.ID,
			SourceText:     change.Utterance.SourceText,
			TranslatedText: change.Utterance.TranslatedText,
			Timestamp:      change.At,
		}
	case session.ChangeClear:
		subject = protocol.SubjectCaptionClear
		payload = protocol.CaptionClear{
			SessionID:         change.SessionID,
			PreviousSessionID: change.PreviousSessionID,
			Timestamp:         change.At,
		}
	default:
		return
	}
	if err := r.bus.PublishJSON(subject, payload); err != nil {
		r.log.Warn("failed to relay caption event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (r *Relay) handleClear(msg *nats.Msg) {
	r.store.Clear()
	r.log.Info("session cleared remotely")
	if msg.Reply == "" {
		return
	}
	reply := protocol.ClearReply{Status: "cleared", SessionID: r.store.SessionID()}
	if err := bus.RespondJSON(msg, reply); err != nil {
		r.log.Warn("failed to answer clear request", slog.String("error", err.Error()))
	}
}

func (r *Relay) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
}
