package core

// SessionID identifies one connected client for the lifetime of its
// signaling connection.
type SessionID string

func (id SessionID) String() string {
	return string(id)
}

// MediaKind is the kind of a produced or consumed media source.
type MediaKind string

const (
	AudioKind MediaKind = "audio"
	VideoKind MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == AudioKind || k == VideoKind
}
