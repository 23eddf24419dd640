package feed

import (
	"sort"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// normalize sorts msgs ascending by id and drops duplicate ids. The input is
// not modified.
func normalize(msgs []entity.Message) []entity.Message {
	out := make([]entity.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].ID == out[i].ID {
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// merge adds msg to window by id. A message already held, or one older than
// the first held message, leaves the window unchanged; the latter belongs to a
// page that backfill has not reached yet.
func merge(window []entity.Message, msg entity.Message) ([]entity.Message, bool) {
	i := sort.Search(len(window), func(i int) bool { return window[i].ID >= msg.ID })
	if i < len(window) && window[i].ID == msg.ID {
		return window, false
	}
	if i == 0 && len(window) > 0 {
		return window, false
	}

	out := make([]entity.Message, 0, len(window)+1)
	out = append(out, window[:i]...)
	out = append(out, msg)
	out = append(out, window[i:]...)
	return out, true
}

// prepend puts an older page in front of window. Messages at or past the first
// held id are ignored so the result stays strictly ascending.
func prepend(window, older []entity.Message) []entity.Message {
	older = normalize(older)
	if len(window) > 0 {
		cut := sort.Search(len(older), func(i int) bool { return older[i].ID >= window[0].ID })
		older = older[:cut]
	}
	out := make([]entity.Message, 0, len(older)+len(window))
	out = append(out, older...)
	out = append(out, window...)
	return out
}

// Ascending reports whether every adjacent pair satisfies a.ID < b.ID.
func Ascending(msgs []entity.Message) bool {
	for i := 1; i < len(msgs); i++ {
		if msgs[i-1].ID >= msgs[i].ID {
			return false
		}
	}
	return true
}
