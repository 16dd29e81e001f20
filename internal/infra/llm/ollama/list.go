package ollama

import "encoding/json"

// ListKind tags which of the known listing schemas a response matched.
type ListKind int

const (
	// ListKindUnknown covers bodies matching neither known schema.
	ListKindUnknown ListKind = iota
	// ListKindTags is the native mapping keyed by "models".
	ListKindTags
	// ListKindObjectList is the OpenAI compatible object with a "data" list.
	ListKindObjectList
)

func (k ListKind) String() string {
	switch k {
	case ListKindTags:
		return "tags"
	case ListKindObjectList:
		return "object_list"
	default:
		return "unknown"
	}
}

// TagEntry is one element of the native listing. Older servers only fill Name.
type TagEntry struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Size  int64  `json:"size,omitempty"`
}

// ObjectEntry is one element of the OpenAI compatible listing.
type ObjectEntry struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ListResponse is a tagged union over the listing schemas. Only the field matching Kind is set.
type ListResponse struct {
	Kind    ListKind
	Tags    []TagEntry
	Objects []ObjectEntry
}

// DecodeListResponse classifies body. Malformed input, including a null list, yields
// ListKindUnknown rather than an error.
func DecodeListResponse(body []byte) ListResponse {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ListResponse{Kind: ListKindUnknown}
	}

	if raw, ok := envelope["models"]; ok {
		var tags []TagEntry
		if err := json.Unmarshal(raw, &tags); err != nil || tags == nil {
			return ListResponse{Kind: ListKindUnknown}
		}
		return ListResponse{Kind: ListKindTags, Tags: tags}
	}

	if raw, ok := envelope["data"]; ok {
		var kind string
		if rawKind, found := envelope["object"]; found {
			_ = json.Unmarshal(rawKind, &kind)
		}
		if kind != "list" {
			return ListResponse{Kind: ListKindUnknown}
		}
		var objects []ObjectEntry
		if err := json.Unmarshal(raw, &objects); err != nil || objects == nil {
			return ListResponse{Kind: ListKindUnknown}
		}
		return ListResponse{Kind: ListKindObjectList, Objects: objects}
	}

	return ListResponse{Kind: ListKindUnknown}
}
