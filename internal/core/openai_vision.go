package core

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const ProviderOpenAI = "openai"

var _ VisionProvider = (*OpenAIVision)(nil)

type OpenAIVision struct {
	client    openai.Client
	modelName string
}

func NewOpenAIVision(apiKey, modelName string) (*OpenAIVision, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	// Retries are handled by the retrying wrapper.
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &OpenAIVision{client: client, modelName: modelName}, nil
}

func (o *OpenAIVision) Name() string  { return ProviderOpenAI }
func (o *OpenAIVision) Model() string { return o.modelName }

func (o *OpenAIVision) Evaluate(ctx context.Context, req VisionRequest) (VisionResponse, error) {
	dataURL := "data:" + req.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.Instructions),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(req.Prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		return VisionResponse{}, &ProviderError{Provider: ProviderOpenAI, Kind: classifyOpenAIError(err), Err: err}
	}

	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return VisionResponse{Text: c.Message.Content}, nil
		}
	}
	return VisionResponse{}, &ProviderError{Provider: ProviderOpenAI, Kind: KindOther, Err: errors.New("no choice content")}
}

func classifyOpenAIError(err error) ProviderErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == "insufficient_quota":
			return KindQuota
		case apiErr.Type == "invalid_request_error", apiErr.StatusCode == http.StatusBadRequest:
			return KindInvalidRequest
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
			return KindTransient
		}
		return KindOther
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "insufficient_quota"), strings.Contains(msg, "You exceeded your current quota"):
		return KindQuota
	case strings.Contains(msg, "invalid_request_error"):
		return KindInvalidRequest
	}
	return KindOther
}
