package language

// Reason explains which rule picked the transcription language.
type Reason string

const (
	// ReasonAuto means no languages are declared and the engine detects freely.
	ReasonAuto Reason = "auto"
	// ReasonSingle means exactly one language is declared and detection is skipped.
	ReasonSingle Reason = "single"
	// ReasonDetected means the engine's guess landed inside the declared set.
	ReasonDetected Reason = "detected"
	// ReasonFallback means detection escaped the declared set and the fallback
	// language is forced on a retry pass.
	ReasonFallback Reason = "fallback"
)

// Settings is the user's declared language configuration, read from the
// settings collaborator. Selected preserves the user's ordering.
type Settings struct {
	Selected []string
	Fallback string
}

// Decision is the outcome of one resolution pass.
type Decision struct {
	LanguageToUse string
	Reason        Reason
	NeedsRetry    bool
}

// Context carries the full language picture to the correction step.
type Context struct {
	Candidates []string `json:"candidates,omitempty"`
	Fallback   string   `json:"fallback,omitempty"`
	Detected   string   `json:"detected,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Used       string   `json:"used,omitempty"`
	Reason     Reason   `json:"reason"`
}

// Resolve maps the declared language set and the last detection result to a
// transcription decision. It is total: every well-typed input produces a
// decision, never an error.
//
// A detection that lands on any declared language is accepted without a retry,
// even when the acoustic model likely confused two similar declared languages.
// Re-transcribing cannot fix a systematic acoustic confusion and costs a full
// extra pass; the semantic correction step downstream handles that case. A
// retry is worth it only when detection escapes the declared set entirely,
// because no downstream step can recover the right language from
// wrong-language text.
func Resolve(selected []string, fallback, detected string, confidence float64) Decision {
	if len(selected) == 0 {
		return Decision{Reason: ReasonAuto}
	}
	if len(selected) == 1 {
		return Decision{LanguageToUse: selected[0], Reason: ReasonSingle}
	}
	if detected != "" && contains(selected, detected) {
		return Decision{LanguageToUse: detected, Reason: ReasonDetected}
	}
	return Decision{LanguageToUse: fallback, Reason: ReasonFallback, NeedsRetry: true}
}

func contains(set []string, code string) bool {
	for _, c := range set {
		if c == code {
			return true
		}
	}
	return false
}
