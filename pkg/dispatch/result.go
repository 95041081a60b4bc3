package dispatch

import "encoding/json"

// Mode selects the request shape issued for one submission.
type Mode string

const (
	ModePlain           Mode = "plain"
	ModeMultiStage      Mode = "multi_stage"
	ModeSearchAugmented Mode = "search_augmented"
)

// VerifiedCase is one court decision confirmed against the case registry.
type VerifiedCase struct {
	CaseNumber string `json:"case_number"`
	Court      string `json:"court,omitempty"`
	Date       string `json:"date,omitempty"`
	Status     string `json:"status"`
	Confidence string `json:"confidence,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Source     string `json:"source,omitempty"`
}

// VerifiedNpa is one statute reference checked for current validity.
type VerifiedNpa struct {
	ActType       string   `json:"act_type"`
	ActName       string   `json:"act_name"`
	Article       string   `json:"article"`
	Part          string   `json:"part,omitempty"`
	Paragraph     string   `json:"paragraph,omitempty"`
	Subparagraph  string   `json:"subparagraph,omitempty"`
	RawReference  string   `json:"raw_reference"`
	Status        string   `json:"status"`
	IsActive      bool     `json:"is_active"`
	CurrentText   string   `json:"current_text,omitempty"`
	AmendmentInfo string   `json:"amendment_info,omitempty"`
	RepealInfo    string   `json:"repeal_info,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	Confidence    string   `json:"confidence,omitempty"`
}

// Result is the finalized outcome of one submission. Errored results carry
// the localized failure text in place of an answer; partial deltas
// accumulated before the failure are already discarded.
type Result struct {
	Mode          Mode           `json:"mode"`
	Text          string         `json:"text"`
	VerifiedCases []VerifiedCase `json:"verified_cases,omitempty"`
	VerifiedNpa   []VerifiedNpa  `json:"verified_npa,omitempty"`
	Errored       bool           `json:"errored"`
	FinalStage    int            `json:"final_stage"`
}

// terminalPayload is the result object attached to a pipeline's completion
// record. Field presence varies per pipeline; text preference order is
// final_answer, then summary, then answer.
type terminalPayload struct {
	FinalAnswer   string         `json:"final_answer"`
	Summary       string         `json:"summary"`
	Answer        string         `json:"answer"`
	VerifiedCases []VerifiedCase `json:"verified_cases"`
	VerifiedNpa   []VerifiedNpa  `json:"verified_npa"`
}

func parseTerminal(raw json.RawMessage) (terminalPayload, bool) {
	var payload terminalPayload
	if len(raw) == 0 {
		return payload, false
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, false
	}
	return payload, true
}

func (p terminalPayload) text() string {
	switch {
	case p.FinalAnswer != "":
		return p.FinalAnswer
	case p.Summary != "":
		return p.Summary
	default:
		return p.Answer
	}
}
