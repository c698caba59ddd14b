// Package wsproto implements the WebSocket message router (C10): the single
// point of contact from clients, dispatching typed JSON frames to the
// session, key, vector, and inference layers beneath it. Grounded in the
// teacher's core/connection_pool.go single-owner-per-connection posture,
// generalized from a reused TCP connection to a long-lived, stateful
// session task.
package wsproto

// Envelope is the minimal shape every inbound frame satisfies: a type
// discriminant plus the raw remainder for type-specific decoding.
type Envelope struct {
	Type string `json:"type"`
}

// Image is one inline vision attachment (spec §4.10.4).
type Image struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// SessionInit is the plaintext dev/test init path (spec §4.10.1).
type SessionInit struct {
	Type          string         `json:"type"`
	SessionID     string         `json:"session_id"`
	ChainID       uint64         `json:"chain_id"`
	JobID         uint64         `json:"job_id"`
	ModelName     string         `json:"model_name"`
	PricePerToken uint64         `json:"price_per_token"`
	VectorDB      *VectorDBRef   `json:"vector_database,omitempty"`
}

// VectorDBRef is the optional RAG attachment carried at init.
type VectorDBRef struct {
	ManifestPath string `json:"manifestPath"`
	UserAddress  string `json:"userAddress"`
}

// EncryptedSessionInit is the production init path (spec §4.10.1, §6.1).
type EncryptedSessionInit struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	EphPub     string `json:"eph_pub"`
	Nonce      string `json:"nonce"`
	AAD        string `json:"aad"`
	Ciphertext string `json:"ciphertext"`
	Signature  string `json:"signature"`
}

// EncryptedSessionInitPayload is the decrypted inner payload.
type EncryptedSessionInitPayload struct {
	JobID         uint64       `json:"jobId"`
	ModelName     string       `json:"modelName"`
	SessionKey    string       `json:"sessionKey"`
	PricePerToken uint64       `json:"pricePerToken"`
	ChainID       uint64       `json:"chainId"`
	VectorDatabase *VectorDBRef `json:"vectorDatabase,omitempty"`
}

// EncryptedMessage is the AEAD-wrapped envelope for any inner message
// (spec §6.1's authoritative wire format).
type EncryptedMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Nonce      string `json:"nonce"`
	AAD        string `json:"aad"`
	Ciphertext string `json:"ciphertext"`
	Signature  string `json:"signature"`
}

// InnerPrompt is the decrypted payload of an encrypted_message prompt, or
// the body of a plaintext `inference` message.
type InnerPrompt struct {
	Prompt string  `json:"prompt"`
	Images []Image `json:"images,omitempty"`
}

// SearchVectors is a synchronous RAG similarity query (spec §4.10.1).
type SearchVectors struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	QueryVector []float32 `json:"query_vector"`
	K           int       `json:"k"`
	Threshold   float32   `json:"threshold"`
}

// UploadVectors adds vectors to a session-attached store.
type UploadVectors struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Vectors   [][]float32 `json:"vectors"`
}

// VisionRequest carries an ocr / describe_image request.
type VisionRequest struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	Image        string `json:"image"`
	Format       string `json:"format"`
	Detail       string `json:"detail,omitempty"`
	CustomPrompt string `json:"prompt,omitempty"`
}

// CloseMessage finalizes a session (spec §4.10.1).
type CloseMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// --- server → client ---

type SessionInitAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	EphPub    string `json:"eph_pub"`
}

type SessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type VectorLoadingStatus struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Status    string      `json:"status"` // Loading | Ready | Error
	Progress  interface{} `json:"progress,omitempty"`
}

type VectorLoadingError struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type InferenceToken struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type InferenceDone struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id"`
	CompletionTokens int    `json:"completion_tokens"`
}

type VectorSearchResult struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Results   []ResultEntry `json:"results"`
}

type ResultEntry struct {
	Key   int     `json:"key"`
	Score float32 `json:"score"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VisionResponse answers a standalone ocr / describe_image request.
type VisionResponse struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	Text         string `json:"text"`
	Model        string `json:"model"`
	Provider     string `json:"provider,omitempty"`
	ProcessingMs int64  `json:"processing_ms"`
}

type CloseAck struct {
	Type               string `json:"type"`
	SessionID          string `json:"session_id"`
	SettlementSummary   interface{} `json:"settlement_summary"`
}
