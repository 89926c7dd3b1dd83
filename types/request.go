package types

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// AskRequest is a natural-language question over the caller's documents.
type AskRequest struct {
	Question     string `json:"question"`
	TopK         int    `json:"top_k,omitempty"`
	IncludeMedia bool   `json:"include_media,omitempty"`
}

// SearchRequest retrieves ranked sources without invoking generation.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}
