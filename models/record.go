package models

// ProjectRecord is one row of the input project list. Identity is ID.
type ProjectRecord struct {
	ID  string `json:"project_id"`
	URL string `json:"url"`
}

// Anchor is an <a> element as seen in the rendered DOM.
type Anchor struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// DocumentLink is an anchor that looks like it points at a project document.
type DocumentLink struct {
	ProjectID string `json:"project_id"`
	Text      string `json:"text"`
	URL       string `json:"url"`
}
