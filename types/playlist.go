package types

// PlaylistItem is a minimal playlist entry.
type PlaylistItem struct {
	VideoID string
	Title   string
	Index   int
}
