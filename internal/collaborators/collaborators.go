// Package collaborators defines the contracts of the external AI services
// (speech-to-text, image analysis, generative classification) and their adapters.
// The pipeline depends only on the interfaces declared here.
package collaborators

import (
	"context"
)

// Transcription is the speech-to-text result for one audio recording
type Transcription struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// DetectedObject is one labelled object found in an image
type DetectedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// SafetyFlags reports unsafe content found in an image
type SafetyFlags struct {
	IsSafe     bool     `json:"is_safe"`
	Categories []string `json:"categories"`
}

// ImageAnalysis is the result for one image
type ImageAnalysis struct {
	ImageRef        string           `json:"image_ref"`
	DetectedObjects []DetectedObject `json:"detected_objects"`
	SceneLabels     []string         `json:"scene_labels"`
	ExtractedText   string           `json:"extracted_text"`
	SafetyFlags     SafetyFlags      `json:"safety_flags"`
}

// ClassificationRequest is the text context handed to the generative classifier
type ClassificationRequest struct {
	ComplaintID string
	Language    string
	Text        string
	ImageHints  []string
}

// RawClassification is the untrusted classifier output. Raw may be malformed JSON.
type RawClassification struct {
	Raw   string
	Model string
}

// Transcriber turns an audio reference into text
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef, languageHint string) (*Transcription, error)
}

// ImageAnalyzer describes one image
type ImageAnalyzer interface {
	Analyze(ctx context.Context, imageRef string) (*ImageAnalysis, error)
}

// Classifier produces a raw classification for complaint text
type Classifier interface {
	Classify(ctx context.Context, req ClassificationRequest) (*RawClassification, error)
}

// Set bundles the three collaborator kinds. Nil members are treated as unavailable.
type Set struct {
	Transcriber   Transcriber
	ImageAnalyzer ImageAnalyzer
	Classifier    Classifier
}
