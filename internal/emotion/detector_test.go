package emotion

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"clearchat/internal/config"
)

type fakeDetector struct {
	label string
	err   error
	calls int
	image []byte
	mime  string
}

func (f *fakeDetector) Detect(_ context.Context, image []byte, mimeType string) (string, error) {
	f.calls++
	f.image, f.mime = image, mimeType
	return f.label, f.err
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestParseDataURI(t *testing.T) {
	data, mime, err := ParseDataURI(dataURI("image/png", []byte("png")))
	if err != nil || string(data) != "png" || mime != "image/png" {
		t.Fatalf("png: data=%q mime=%q err=%v", data, mime, err)
	}
	data, mime, err = ParseDataURI("," + base64.StdEncoding.EncodeToString([]byte("raw")))
	if err != nil || string(data) != "raw" || mime != "image/jpeg" {
		t.Fatalf("bare: data=%q mime=%q err=%v", data, mime, err)
	}
	for _, bad := range []string{"", "data:image/jpeg;base64", "data:image/jpeg;base64,", "data:image/jpeg;base64,@@@"} {
		if _, _, err := ParseDataURI(bad); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("ParseDataURI(%q) err=%v, want ErrMalformedPayload", bad, err)
		}
	}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	ok := &fakeDetector{label: "Joy"}
	res := Classify(ctx, ok, dataURI("image/jpeg", []byte{1, 2, 3}))
	if !res.Ok() || res.LabelOrEmpty() != "Joy" {
		t.Fatalf("unexpected result %+v", res)
	}
	if ok.mime != "image/jpeg" || len(ok.image) != 3 {
		t.Fatalf("detector got mime=%q image=%v", ok.mime, ok.image)
	}

	failing := &fakeDetector{label: "ignored", err: errors.New("quota exceeded")}
	res = Classify(ctx, failing, dataURI("image/jpeg", []byte{1}))
	if res.Ok() || res.LabelOrEmpty() != "" {
		t.Fatalf("failure must degrade to empty label: %+v", res)
	}

	untouched := &fakeDetector{label: "Joy"}
	res = Classify(ctx, untouched, "not a data uri")
	if !errors.Is(res.Err, ErrMalformedPayload) || untouched.calls != 0 {
		t.Fatalf("malformed payload: res=%+v calls=%d", res, untouched.calls)
	}
	if res := Classify(ctx, nil, dataURI("image/jpeg", []byte{1})); !errors.Is(res.Err, ErrNoDetector) {
		t.Fatalf("nil detector: %+v", res)
	}
}

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	text     string
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents = model, contents
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

func TestGeminiDetectorSendsPromptAndInlineImage(t *testing.T) {
	gen := &fakeGenerator{text: "Happiness\n"}
	d := newGeminiDetector(gen, "", "")
	label, err := d.Detect(context.Background(), []byte("jpeg"), "image/jpeg")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if label != "Happiness\n" {
		t.Fatalf("label must be returned verbatim, got %q", label)
	}
	if gen.model != DefaultGeminiModel {
		t.Fatalf("model = %q", gen.model)
	}
	if len(gen.contents) != 1 || len(gen.contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents %+v", gen.contents)
	}
	parts := gen.contents[0].Parts
	if parts[0].Text != DefaultPrompt {
		t.Fatalf("prompt = %q", parts[0].Text)
	}
	if parts[1].InlineData == nil || string(parts[1].InlineData.Data) != "jpeg" || parts[1].InlineData.MIMEType != "image/jpeg" {
		t.Fatalf("unexpected image part %+v", parts[1].InlineData)
	}

	gen.err = errors.New("unavailable")
	if _, err := d.Detect(context.Background(), []byte("jpeg"), ""); err == nil {
		t.Fatalf("expected error from generator")
	}
}

type fakeChatModel struct {
	input []*schema.Message
	reply string
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestChatModelDetectorBuildsMultiContentMessage(t *testing.T) {
	m := &fakeChatModel{reply: "Surprise"}
	d, err := NewChatModelDetector(m, "custom prompt")
	if err != nil {
		t.Fatalf("NewChatModelDetector: %v", err)
	}
	label, err := d.Detect(context.Background(), []byte{0xff, 0xd8}, "image/jpeg")
	if err != nil || label != "Surprise" {
		t.Fatalf("Detect: %q %v", label, err)
	}
	if len(m.input) != 1 || len(m.input[0].MultiContent) != 2 {
		t.Fatalf("unexpected input %+v", m.input)
	}
	parts := m.input[0].MultiContent
	if parts[0].Text != "custom prompt" {
		t.Fatalf("prompt = %q", parts[0].Text)
	}
	want := dataURI("image/jpeg", []byte{0xff, 0xd8})
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != want {
		t.Fatalf("image url = %+v, want %s", parts[1].ImageURL, want)
	}
	if _, err := NewChatModelDetector(nil, ""); err == nil {
		t.Fatalf("expected error for nil model")
	}
}

func TestNewDetectorSelectsProvider(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"gemini": {APIKey: "g-key"},
			"openai": {APIKey: "o-key", BaseURL: "http://localhost:1/v1"},
		},
	}
	d, err := NewDetector(ctx, "", cfg)
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if _, ok := d.(*GeminiDetector); !ok {
		t.Fatalf("expected GeminiDetector, got %T", d)
	}
	d, err = NewDetector(ctx, "openai", cfg)
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := d.(*ChatModelDetector); !ok {
		t.Fatalf("expected ChatModelDetector, got %T", d)
	}
	if _, err := NewDetector(ctx, "claude", cfg); err == nil {
		t.Fatalf("expected error for unconfigured provider")
	}
	cfg.Providers["mystery"] = config.ProviderConfig{APIKey: "x"}
	if _, err := NewDetector(ctx, "mystery", cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
