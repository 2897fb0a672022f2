package chat

import (
	"log/slog"

	"github.com/johndosdos/clubchat/internal/model"
)

// Dispatcher turns inbound socket frames into store mutations. Frames are
// applied in the order they are handed over.
type Dispatcher struct {
	store  *Store
	logger *slog.Logger
}

func NewDispatcher(store *Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, logger: logger}
}

// Dispatch decodes data and applies it. A malformed frame is logged and
// returned as an error; the store is left as it was.
func (d *Dispatcher) Dispatch(data []byte) (model.Event, error) {
	ev, err := model.DecodeEvent(data)
	if err != nil {
		d.logger.Warn("dropping malformed event", "error", err, "size", len(data))
		return nil, err
	}

	d.Apply(ev)
	return ev, nil
}

// Apply performs the store mutation for ev, if it has one.
func (d *Dispatcher) Apply(ev model.Event) {
	switch e := ev.(type) {
	case model.NewMessage:
		if !d.store.Append(e.Message) {
			d.logger.Debug("ignoring duplicate message", "message_id", e.Message.ID)
		}
	case model.MessageDeleted:
		if !d.store.Remove(e.MessageID) {
			d.logger.Debug("deleted message not in view", "message_id", e.MessageID)
		}
	case model.ServerError:
		d.logger.Warn("server reported an error", "message", e.Message)
	case model.Unknown:
		d.logger.Debug("ignoring unknown event", "type", e.Tag)
	case model.Connected:
		d.logger.Debug("socket acknowledged", "group_id", e.GroupID, "user_id", e.UserID)
	}
}
