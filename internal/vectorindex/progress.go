package vectorindex

// ProgressKind names the four load-lifecycle events spec §4.6 requires the
// WebSocketProtocol to forward as vector_loading_status messages.
type ProgressKind string

const (
	ManifestDownloaded ProgressKind = "ManifestDownloaded"
	ChunkDownloaded    ProgressKind = "ChunkDownloaded"
	IndexBuilt         ProgressKind = "IndexBuilt"
	Complete           ProgressKind = "Complete"
)

// Progress is one load-lifecycle event.
type Progress struct {
	Kind        ProgressKind
	ChunkID     string
	ChunkIndex  int
	ChunkTotal  int
	VectorCount int
	DurationMs  int64
}
