package types

// Candidate priorities, lowest number = strongest signal. Multi-word chunks
// carry the most context, vocabulary expansions the least.
const (
	PriorityChunk     = 1
	PrioritySubPhrase = 2
	PriorityWord      = 3
	PriorityExpansion = 4
)

// Candidate source kinds.
const (
	SourceChunk        = "chunk"
	SourceSubPhrase    = "sub_phrase"
	SourceWord         = "word"
	SourceExpandedTerm = "expanded_term"
)

// Candidate is a fragment of the user's query put forward for entity
// matching. Start and End are byte offsets into the normalized query text.
type Candidate struct {
	Text     string `json:"text"`
	Priority int    `json:"priority"`
	Source   string `json:"source"`
	Start    int    `json:"start"`
	End      int    `json:"end"`

	// Origin is the query word an expanded term was derived from.
	// Empty for every other source.
	Origin string `json:"origin,omitempty"`
}

// EntityMapping records one resolved candidate: the query fragment, the
// entity it matched and how confident the match is.
type EntityMapping struct {
	Text        string  `json:"text"`
	Entity      string  `json:"entity"`
	Alias       string  `json:"alias"`
	EntityGroup string  `json:"entity_group"`
	RecordType  string  `json:"record_type,omitempty"`
	Confidence  float64 `json:"confidence"`
	Distance    float64 `json:"distance"`
	Source      string  `json:"candidate_type"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
}

// QueryContext aggregates record-type hints over all accepted mappings.
// DT holds the record types of matched entities; RDT holds the record
// types related to them. Both are de-duplicated, first-seen order.
type QueryContext struct {
	DT  []string `json:"dt"`
	RDT []string `json:"rdt"`
}

// RelatedType describes one schema-graph neighbour of the resolved record
// types, ranked by how strongly it is connected to them.
type RelatedType struct {
	Type               string   `json:"type"`
	LinkedTypes        []string `json:"linked_types,omitempty"`
	ConnectionStrength int      `json:"connection_strength"`
}
