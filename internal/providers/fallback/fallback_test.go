package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"netpilot/internal/providers"
)

type fakeProvider struct {
	text string
	err  error
	got  providers.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	f.got = req
	if f.err != nil {
		return providers.ChatResponse{}, f.err
	}
	return providers.ChatResponse{Text: f.text}, nil
}

func TestChatFallsThroughToSecondProvider(t *testing.T) {
	primary := &fakeProvider{err: errors.New("boom")}
	secondary := &fakeProvider{text: "rescued"}

	r := NewRouter([]Candidate{
		{Name: "groq", Model: "llama3-70b-8192", Provider: primary},
		{Name: "openai", Model: "gpt-4", Provider: secondary},
	}, zerolog.Nop(), nil)

	res, err := r.Chat(context.Background(), providers.ChatRequest{UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Provider != "openai" {
		t.Fatalf("expected openai to serve the request, got %q", res.Provider)
	}
	if res.Text != "rescued" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if secondary.got.Model != "gpt-4" {
		t.Fatalf("expected candidate default model, got %q", secondary.got.Model)
	}
}

func TestChatKeepsExplicitModel(t *testing.T) {
	p := &fakeProvider{text: "ok"}
	r := NewRouter([]Candidate{{Name: "groq", Model: "llama3-70b-8192", Provider: p}}, zerolog.Nop(), nil)

	if _, err := r.Chat(context.Background(), providers.ChatRequest{Model: "mixtral-8x7b", UserPrompt: "hello"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if p.got.Model != "mixtral-8x7b" {
		t.Fatalf("explicit model must not be replaced, got %q", p.got.Model)
	}
}

func TestChatReturnsLastErrorWhenAllFail(t *testing.T) {
	errA := errors.New("provider a down")
	errB := errors.New("provider b down")
	r := NewRouter([]Candidate{
		{Name: "a", Provider: &fakeProvider{err: errA}},
		{Name: "b", Provider: &fakeProvider{err: errB}},
	}, zerolog.Nop(), nil)

	_, err := r.Chat(context.Background(), providers.ChatRequest{UserPrompt: "hello"})
	if err == nil {
		t.Fatalf("expected error when all providers fail")
	}
	if !errors.Is(err, errB) {
		t.Fatalf("expected last error wrapped, got %v", err)
	}
}

func TestChatNoCandidates(t *testing.T) {
	r := NewRouter(nil, zerolog.Nop(), nil)
	if _, err := r.Chat(context.Background(), providers.ChatRequest{UserPrompt: "hello"}); err == nil {
		t.Fatalf("expected error with no candidates")
	}
}
