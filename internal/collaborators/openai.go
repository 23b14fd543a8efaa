package collaborators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/aawaaz/civic-pipeline/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

const classifierSystemPrompt = `You classify civic complaints reported by citizens.
Reply with one JSON object only, using exactly these keys:
  "category": one of %s
  "subcategory": short free text or ""
  "confidence": number between 0 and 1
  "summary": one sentence in English
  "entities": {"locations": [], "severity_indicators": [], "affected_infrastructure": []}
  "suggested_priority": integer 1-10
  "affected_population": integer estimate of people affected, 0 if unknown
  "alternatives": [{"category": "...", "confidence": 0.0}] for other plausible categories`

const visionPrompt = `Describe this photo of a reported civic issue.
Reply with one JSON object only:
{"detected_objects":[{"label":"...","confidence":0.0}],"scene_labels":[],"extracted_text":"",
 "safety_flags":{"is_safe":true,"categories":[]}}
Mark is_safe false for graphic, violent or otherwise unsafe content and list the reasons in categories.`

// wrapOpenAIError classifies client errors: 4xx other than 429 are permanent
func wrapOpenAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return fmt.Errorf("%w: %s: %v", models.ErrValidation, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", models.ErrCollaboratorUnavailable, op, err)
}

// OpenAIClassifier is the generative classification collaborator
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIClassifier creates a classifier bound to model
func NewOpenAIClassifier(client *openai.Client, model string) *OpenAIClassifier {
	return &OpenAIClassifier{client: client, model: model}
}

// Classify asks the model for a JSON classification. The reply is returned unparsed.
func (c *OpenAIClassifier) Classify(ctx context.Context, req ClassificationRequest) (*RawClassification, error) {
	names := make([]string, len(models.Categories))
	for i, cat := range models.Categories {
		names[i] = string(cat)
	}

	user := req.Text
	if len(req.ImageHints) > 0 {
		user += "\n\nPhoto observations: " + strings.Join(req.ImageHints, "; ")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(classifierSystemPrompt, strings.Join(names, ", "))},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, wrapOpenAIError("classify", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: classify: empty response", models.ErrCollaboratorUnavailable)
	}
	return &RawClassification{Raw: resp.Choices[0].Message.Content, Model: c.model}, nil
}

// OpenAITranscriber is the speech-to-text collaborator
type OpenAITranscriber struct {
	client  *openai.Client
	fetcher *MediaFetcher
}

// NewOpenAITranscriber creates a Whisper-backed transcriber
func NewOpenAITranscriber(client *openai.Client, fetcher *MediaFetcher) *OpenAITranscriber {
	return &OpenAITranscriber{client: client, fetcher: fetcher}
}

// Transcribe fetches the recording and transcribes it
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioRef, languageHint string) (*Transcription, error) {
	data, err := t.fetcher.Fetch(ctx, audioRef)
	if err != nil {
		return nil, err
	}

	name := path.Base(audioRef)
	if path.Ext(name) == "" {
		name += ".m4a"
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: name,
		Reader:   bytes.NewReader(data),
		Language: languageHint,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, wrapOpenAIError("transcribe", err)
	}

	// Whisper has no single confidence; derive one from per-segment log-probabilities.
	confidence := 0.8
	if len(resp.Segments) > 0 {
		var sum float64
		for _, s := range resp.Segments {
			sum += math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
		}
		confidence = clamp01(sum / float64(len(resp.Segments)))
	}

	lang := resp.Language
	if lang == "" {
		lang = languageHint
	}
	return &Transcription{Text: strings.TrimSpace(resp.Text), Language: lang, Confidence: confidence}, nil
}

// OpenAIImageAnalyzer is the image-analysis collaborator
type OpenAIImageAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIImageAnalyzer creates a vision-model image analyzer
func NewOpenAIImageAnalyzer(client *openai.Client, model string) *OpenAIImageAnalyzer {
	return &OpenAIImageAnalyzer{client: client, model: model}
}

// Analyze describes one image referenced by URL
func (a *OpenAIImageAnalyzer) Analyze(ctx context.Context, imageRef string) (*ImageAnalysis, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    imageRef,
						Detail: openai.ImageURLDetailLow,
					}},
				},
			},
		},
		MaxTokens: 600,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, wrapOpenAIError("analyze image", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: analyze image: empty response", models.ErrCollaboratorUnavailable)
	}
	return ParseImageAnalysis(imageRef, resp.Choices[0].Message.Content)
}

// ParseImageAnalysis decodes a vision reply, tolerating missing keys
func ParseImageAnalysis(imageRef, raw string) (*ImageAnalysis, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: analyze image: malformed reply", models.ErrCollaboratorUnavailable)
	}
	doc := gjson.Parse(raw)

	out := &ImageAnalysis{
		ImageRef:      imageRef,
		ExtractedText: strings.TrimSpace(doc.Get("extracted_text").String()),
		SafetyFlags:   SafetyFlags{IsSafe: true},
	}
	for _, o := range doc.Get("detected_objects").Array() {
		label := strings.TrimSpace(o.Get("label").String())
		if label == "" {
			continue
		}
		out.DetectedObjects = append(out.DetectedObjects, DetectedObject{
			Label:      label,
			Confidence: clamp01(o.Get("confidence").Float()),
		})
	}
	for _, l := range doc.Get("scene_labels").Array() {
		if s := strings.TrimSpace(l.String()); s != "" {
			out.SceneLabels = append(out.SceneLabels, s)
		}
	}
	if flags := doc.Get("safety_flags"); flags.Exists() {
		if v := flags.Get("is_safe"); v.Exists() {
			out.SafetyFlags.IsSafe = v.Bool()
		}
		for _, c := range flags.Get("categories").Array() {
			out.SafetyFlags.Categories = append(out.SafetyFlags.Categories, c.String())
		}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
