package models

// JobStatus is the lifecycle state of a batch transcription job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobError      JobStatus = "error"
)

// IsTerminal returns true for done and error.
func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobError
}

// AudioMetadata describes an uploaded audio file.
type AudioMetadata struct {
	ID               string  `json:"id"`
	Filename         string  `json:"filename"`
	Extension        string  `json:"extension"`
	Size             int64   `json:"size"`
	AudioDuration    float64 `json:"audio_duration"`
	NumberOfChannels int     `json:"number_of_channels"`
}

// Upload is the provider's answer to an audio upload.
type Upload struct {
	AudioURL      string        `json:"audio_url"`
	AudioMetadata AudioMetadata `json:"audio_metadata"`
}

// DiarizationConfig hints the expected number of speakers.
type DiarizationConfig struct {
	MaxSpeakers      int `json:"max_speakers,omitempty"`
	MinSpeakers      int `json:"min_speakers,omitempty"`
	NumberOfSpeakers int `json:"number_of_speakers,omitempty"`
}

// JobRequest is the configuration submitted with a batch transcription job.
type JobRequest struct {
	AudioURL          string             `json:"audio_url"`
	ContextPrompt     string             `json:"context_prompt,omitempty"`
	CustomVocabulary  []string           `json:"custom_vocabulary,omitempty"`
	DetectLanguage    bool               `json:"detect_language,omitempty"`
	Diarization       bool               `json:"diarization,omitempty"`
	DiarizationConfig *DiarizationConfig `json:"diarization_config,omitempty"`
	Language          string             `json:"language,omitempty"`
}

// JobRef identifies a submitted job.
type JobRef struct {
	ID        string `json:"id"`
	ResultURL string `json:"result_url"`
}

// Utterance is one diarized span of a finished job.
type Utterance struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Speaker  int     `json:"speaker"`
	Channel  int     `json:"channel"`
	Words    []struct {
		Word       string  `json:"word"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// JobResult holds the transcription of a finished job.
type JobResult struct {
	Metadata struct {
		AudioDuration     float64 `json:"audio_duration"`
		TranscriptionTime float64 `json:"transcription_time"`
	} `json:"metadata"`
	Transcription struct {
		FullTranscript string      `json:"full_transcript"`
		Languages      []string    `json:"languages"`
		Utterances     []Utterance `json:"utterances"`
	} `json:"transcription"`
}

// JobSnapshot is one polled view of a batch job.
type JobSnapshot struct {
	ID           string     `json:"id"`
	RequestID    string     `json:"request_id,omitempty"`
	Status       JobStatus  `json:"status"`
	CreatedAt    string     `json:"created_at,omitempty"`
	CompletedAt  string     `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Result       *JobResult `json:"result,omitempty"`
}

// Language returns the first detected language of a finished job, if any.
func (s JobSnapshot) Language() string {
	if s.Result == nil || len(s.Result.Transcription.Languages) == 0 {
		return ""
	}
	return s.Result.Transcription.Languages[0]
}
