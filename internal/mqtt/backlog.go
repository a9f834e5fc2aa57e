package mqtt

// outbound is a publication waiting for the broker.
type outbound struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds publications made while the broker is unreachable, oldest
// first. It keeps at most limit messages and discards the oldest beyond that.
// A retained message replaces any earlier retained message on the same topic,
// since the broker only keeps the last one. Not safe for concurrent use.
type backlog struct {
	limit    int
	msgs     []outbound
	dropping bool
}

func newBacklog(limit int) *backlog {
	if limit < 1 {
		limit = 1
	}
	return &backlog{limit: limit}
}

// add queues m. It reports true the first time a message is discarded
// since the last flush.
func (b *backlog) add(m outbound) bool {
	if m.retained {
		for i, old := range b.msgs {
			if old.retained && old.topic == m.topic {
				b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
				break
			}
		}
	}

	first := false
	if len(b.msgs) == b.limit {
		b.msgs = b.msgs[1:]
		first = !b.dropping
		b.dropping = true
	}
	b.msgs = append(b.msgs, m)
	return first
}

// flush returns the queued messages and empties the backlog.
func (b *backlog) flush() []outbound {
	out := b.msgs
	b.msgs = nil
	b.dropping = false
	return out
}

func (b *backlog) len() int {
	return len(b.msgs)
}
