package types

type DataResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	User        *User  `json:"user"`
}

type UploadResponse struct {
	DocumentID   string `json:"document_id"`
	OriginalName string `json:"original_name,omitempty"`
	Status       string `json:"processing_status"`
}

type ProcessingDocumentStatus struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	Progress       float64 `json:"progress"`
	TotalPages     int     `json:"total_pages"`
	ProcessedPages int     `json:"processed_pages"`
}

// Source is one piece of ranked text evidence backing an answer.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	PageStart  int     `json:"page_start"`
	PageEnd    int     `json:"page_end"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// MediaRef describes a media item co-located with the answer's sources.
// Image payloads are fetched separately by ID; table renderings are
// inlined.
type MediaRef struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Kind       string `json:"kind"`
	Page       int    `json:"page"`
	Caption    string `json:"caption,omitempty"`
	CSV        string `json:"csv,omitempty"`
	HTML       string `json:"html,omitempty"`
}

// Answer is the assembled response to an ask. When generation is down
// the sources are still returned and Unavailable marks the degradation;
// an empty Sources list with Unavailable false means no evidence was
// found, which is a different condition.
type Answer struct {
	Question    string     `json:"question"`
	Answer      string     `json:"answer"`
	Unavailable bool       `json:"answer_unavailable,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Sources     []Source   `json:"sources"`
	Media       []MediaRef `json:"media_items,omitempty"`
	CreatedAt   int64      `json:"created_at"`
}
