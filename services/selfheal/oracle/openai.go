// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
)

// OpenAIOracle is the production Oracle backed by the OpenAI chat API.
type OpenAIOracle struct {
	client *openai.Client
	model  string
}

// NewOpenAIOracle creates an oracle from environment configuration.
//
// OPENAI_API_KEY is read from the environment, falling back to the
// container secret at /run/secrets/openai_api_key. OPENAI_MODEL
// defaults to gpt-4o-mini.
func NewOpenAIOracle() (*OpenAIOracle, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing diagnosis oracle", "model", model)
	return &OpenAIOracle{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Analyze implements the Oracle interface.
func (o *OpenAIOracle) Analyze(ctx context.Context, diagCtx datatypes.DiagnosisContext) (*datatypes.Analysis, error) {
	ctx, span := otel.Tracer("oracle").Start(ctx, "oracle.Analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", o.model),
		attribute.Int("recent_metrics", len(diagCtx.RecentMetrics)),
		attribute.Int("recent_issues", len(diagCtx.RecentIssues)),
		attribute.Bool("targeted", diagCtx.Focus != nil),
	)

	prompt, err := BuildPrompt(diagCtx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Oracle API call failed", "error", err)
		return nil, fmt.Errorf("oracle API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return nil, fmt.Errorf("oracle returned no choices")
	}

	analysis, err := ParseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("Oracle response could not be parsed", "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("category", string(analysis.Category)),
		attribute.Int("urgency", analysis.Urgency),
		attribute.Bool("auto_fixable", analysis.AutoFixable),
	)
	slog.Debug("Oracle analysis received",
		"category", string(analysis.Category),
		"severity", string(analysis.Severity),
		"urgency", analysis.Urgency,
	)
	return analysis, nil
}

var _ Oracle = (*OpenAIOracle)(nil)
