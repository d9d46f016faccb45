package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ProviderGemini = "gemini"

var _ VisionProvider = (*GeminiVision)(nil)

type GeminiVision struct {
	client    *genai.Client
	modelName string
}

func NewGeminiVision(ctx context.Context, apiKey, modelName string) (*GeminiVision, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiVision{client: client, modelName: modelName}, nil
}

func (g *GeminiVision) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiVision) Name() string  { return ProviderGemini }
func (g *GeminiVision) Model() string { return g.modelName }

func (g *GeminiVision) Evaluate(ctx context.Context, req VisionRequest) (VisionResponse, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.Instructions)},
	}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)

	format := strings.TrimPrefix(req.MIMEType, "image/")
	resp, err := model.GenerateContent(ctx, genai.ImageData(format, req.Image), genai.Text(req.Prompt))
	if err != nil {
		return VisionResponse{}, &ProviderError{Provider: ProviderGemini, Kind: classifyGeminiError(err), Err: err}
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return VisionResponse{}, &ProviderError{Provider: ProviderGemini, Kind: KindOther, Err: errors.New("gemini response was empty")}
	}

	var out VisionResponse
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.Parts = append(out.Parts, string(txt))
		}
	}
	if out.FeedbackText() == "" {
		return VisionResponse{}, &ProviderError{Provider: ProviderGemini, Kind: KindOther, Err: errors.New("gemini response had no text parts")}
	}
	return out, nil
}

func classifyGeminiError(err error) ProviderErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return KindInvalidRequest
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return KindQuota
		case gerr.Code == http.StatusBadRequest:
			return KindInvalidRequest
		case gerr.Code >= 500:
			return KindTransient
		}
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return KindQuota
		case codes.InvalidArgument, codes.FailedPrecondition:
			return KindInvalidRequest
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal:
			return KindTransient
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"), strings.Contains(strings.ToLower(msg), "quota"):
		return KindQuota
	case strings.Contains(msg, "INVALID_ARGUMENT"):
		return KindInvalidRequest
	}
	return KindOther
}
