package protocol

import "time"

// AudioFrame carries PCM audio from the capture layer. Final marks the last
// frame of a dictation.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// DictationResult is the final outcome of one dictation, published for the
// shell/UI layer.
type DictationResult struct {
	SessionID        string    `json:"session_id"`
	Text             string    `json:"text"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	LanguageUsed     string    `json:"language_used,omitempty"`
	Reason           string    `json:"reason"`
	Corrected        bool      `json:"corrected"`
	Error            string    `json:"error,omitempty"`
	DurationMS       int64     `json:"duration_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// ServerEvent announces recognition-server lifecycle transitions so
// collaborators (pre-warming, status UI) can react.
type ServerEvent struct {
	Type      string    `json:"type"`
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelProgress reports recognition-model download progress so the shell/UI
// layer can render it live.
type ModelProgress struct {
	Model           string  `json:"model"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Percentage      float64 `json:"percentage"`
	Done            bool    `json:"done"`
}

const (
	SubjectAudioFramePrefix = "dictation.audio"
	SubjectDictationResult  = "dictation.result"
	SubjectServerEvent      = "dictation.server.event"
	SubjectModelProgress    = "dictation.model.progress"
)
