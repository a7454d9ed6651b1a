package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

type AnthropicConfig struct {
	// Model defaults to Claude Sonnet 4.
	Model anthropic.Model
	// APIKey falls back to ANTHROPIC_API_KEY.
	APIKey     string
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
	MaxTokens  int64
}

// AnthropicBackend answers every operation with a single Messages call that
// is instructed to reply with JSON in the response shape of the operation.
type AnthropicBackend struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64

	mu        sync.Mutex
	inputTok  int64
	outputTok int64
}

var _ Backend = (*AnthropicBackend)(nil)

func NewAnthropicBackend(ctx context.Context, cfg AnthropicConfig) (*AnthropicBackend, error) {
	// Retries are owned by Client.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic api key not configured")
		}
		opts = append(opts, option.WithAPIKey(key))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicBackend{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

func (b *AnthropicBackend) Tokens() (input, output int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputTok, b.outputTok
}

func (b *AnthropicBackend) Call(ctx context.Context, op Operation, payload any, out any) error {
	system, blocks, err := buildPrompt(op, payload)
	if err != nil {
		return Permanent(err)
	}
	resp, err := b.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return classifyAPIError(err)
	}
	b.mu.Lock()
	b.inputTok += resp.Usage.InputTokens
	b.outputTok += resp.Usage.OutputTokens
	b.mu.Unlock()

	text := extractText(resp)
	if err := json.Unmarshal([]byte(jsonObject(text)), out); err != nil {
		return Permanent(fmt.Errorf("decode %s response: %w", op, err))
	}
	return nil
}

// classifyAPIError marks client-side rejections as permanent. Rate limits
// and timeouts stay transient.
func classifyAPIError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return Permanent(err)
		}
	}
	return err
}

func extractText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// jsonObject strips code fences and prose around the first JSON object.
func jsonObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

const jsonOnly = "Respond with a single JSON object and nothing else."

func buildPrompt(op Operation, payload any) (string, []anthropic.ContentBlockParamUnion, error) {
	switch req := payload.(type) {
	case AffirmationRequest:
		sys := "You write short, warm daily affirmations for a habit-building app. " +
			`Reply as {"affirmation": string}. ` + jsonOnly
		user := fmt.Sprintf("Theme: %s\nUsername: %s\nMood: %s", req.Theme, req.Username, req.Mood)
		return sys, textBlocks(user), nil
	case CoachingRequest:
		sys := "You are a supportive habit coach. Keep replies under 120 words. " +
			`Reply as {"reply": string}. ` + jsonOnly
		user := fmt.Sprintf("Mood: %s\nContext: %s\nProfile: %s\nMessage: %s",
			req.Mood, req.Context, profileText(req.UserProfile), req.Message)
		return sys, textBlocks(user), nil
	case ChatRequest:
		tone := "friendly and playful"
		if req.Personality == PersonalityProfessional {
			tone = "concise and professional"
		}
		sys := fmt.Sprintf("You are a %s assistant in a habit-building app. ", tone) +
			`Reply as {"reply": string}. ` + jsonOnly
		var sb strings.Builder
		for _, m := range req.History {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		fmt.Fprintf(&sb, "Profile: %s\nuser: %s", profileText(req.UserProfile), req.Message)
		return sys, textBlocks(sb.String()), nil
	case RoadmapRequest:
		sys := fmt.Sprintf("You design %d-day habit roadmaps. Every day has a title, a description "+
			"and exactly 3 tasks. ", roadmapDays) +
			`Reply as {"roadmap": {"theme": string, "goal": string, "days": [{"day": int, "title": string, ` +
			`"description": string, "tasks": [string], "completed": false}]}}. ` + jsonOnly
		user := fmt.Sprintf("Goals: %s\nStruggles: %s\nDaily minutes available: %g\nProfile: %s",
			req.Goals, req.Struggles, req.DailyTime, profileText(req.UserProfile))
		return sys, textBlocks(user), nil
	case MoodRequest:
		sys := "Classify the dominant mood of a journal entry with one lowercase word such as " +
			`happy, calm, neutral, anxious, sad or angry. Reply as {"mood": string}. ` + jsonOnly
		return sys, textBlocks(req.JournalEntry), nil
	case VerifyRequest:
		img, err := imageBlock(req.ImageURL)
		if err != nil {
			return "", nil, err
		}
		sys := "You check whether a photo plausibly shows a completed habit quest. " +
			`Reply as {"verified": boolean}. ` + jsonOnly
		user := fmt.Sprintf("Quest: %s\nDescription: %s", req.QuestTitle, req.QuestDescription)
		return sys, []anthropic.ContentBlockParamUnion{img, anthropic.NewTextBlock(user)}, nil
	default:
		return "", nil, fmt.Errorf("%s: unexpected payload %T", op, payload)
	}
}

func textBlocks(s string) []anthropic.ContentBlockParamUnion {
	return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(s)}
}

func profileText(p *UserProfile) string {
	if p == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s (theme %s, %d xp, %d day streak)", p.Username, p.Theme, p.XP, p.Streak)
}

// imageBlock accepts a base64 data URL or a remote http(s) URL.
func imageBlock(ref string) (anthropic.ContentBlockParamUnion, error) {
	if rest, ok := strings.CutPrefix(ref, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		mediaType, isB64 := strings.CutSuffix(meta, ";base64")
		if !found || !isB64 || mediaType == "" {
			return anthropic.ContentBlockParamUnion{}, fmt.Errorf("unsupported data url")
		}
		return anthropic.NewImageBlockBase64(mediaType, data), nil
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: ref}), nil
	}
	return anthropic.ContentBlockParamUnion{}, fmt.Errorf("unsupported image reference")
}
