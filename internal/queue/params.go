package queue

import (
	"encoding/json"
	"fmt"
)

// DubParams are the kind-specific parameters for dub jobs. InputPath points at
// the uploaded source audio in the uploads directory.
type DubParams struct {
	InputPath               string `json:"inputPath"`
	OriginalFilename        string `json:"originalFilename,omitempty"`
	TargetLanguage          string `json:"targetLanguage"`
	SourceLanguage          string `json:"sourceLanguage,omitempty"`
	PreserveBackgroundAudio bool   `json:"preserveBackgroundAudio,omitempty"`
}

// Segment is one timed transcript slice of an export manifest.
type Segment struct {
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
	Text    string `json:"text"`
}

// Manifest is the ordered segment list composed into an export artifact.
type Manifest struct {
	Segments []Segment `json:"segments"`
}

// ExportParams are the kind-specific parameters for export jobs.
type ExportParams struct {
	AudioURL     string         `json:"audioUrl,omitempty"`
	TranscriptID string         `json:"transcriptId"`
	TemplateID   string         `json:"templateId,omitempty"`
	Manifest     *Manifest      `json:"manifest,omitempty"`
	Style        map[string]any `json:"style,omitempty"`
}

// EncodeParams serializes kind-specific parameters for storage on the job row.
func EncodeParams(params any) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode job params: %w", err)
	}
	return string(encoded), nil
}

// DubParams decodes the job's parameter payload as dub parameters.
func (j *Job) DubParams() (DubParams, error) {
	var params DubParams
	if err := json.Unmarshal([]byte(j.ParamsJSON), &params); err != nil {
		return DubParams{}, fmt.Errorf("decode dub params for job %s: %w", j.ID, err)
	}
	return params, nil
}

// ExportParams decodes the job's parameter payload as export parameters.
func (j *Job) ExportParams() (ExportParams, error) {
	var params ExportParams
	if err := json.Unmarshal([]byte(j.ParamsJSON), &params); err != nil {
		return ExportParams{}, fmt.Errorf("decode export params for job %s: %w", j.ID, err)
	}
	return params, nil
}
