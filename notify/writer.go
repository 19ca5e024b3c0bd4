package notify

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Writer writes each event as one JSON line.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
	log zerolog.Logger
}

func NewWriter(w io.Writer, log zerolog.Logger) *Writer {
	return &Writer{
		enc: json.NewEncoder(w),
		log: log,
	}
}

func (w *Writer) Emit(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(e); err != nil {
		w.log.Error().Str("Method", "Emit").Str("Event", e.Name).Err(err).Msg("write failed")
	}
}
