package notify

// Sink accepts notification intents. Enqueue must not block the caller and
// has no failure mode visible to it.
type Sink interface {
	Enqueue(in Intent)
}

// Discard drops every intent.
type Discard struct{}

func (Discard) Enqueue(Intent) {}
