package multimodal

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docintel/internal/apperr"
	"github.com/nikhilbhutani/docintel/internal/document"
	"github.com/nikhilbhutani/docintel/internal/llm"
	"github.com/nikhilbhutani/docintel/internal/testutil"
)

type fakeGateway struct {
	reply string
	err   error
	delay  time.Duration
	req    llm.ChatRequest
	models []llm.ModelInfo
}

func (f *fakeGateway) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.req = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Provider: "fake", Model: req.Model, Content: f.reply}, nil
}

func (f *fakeGateway) Provider(string) (llm.Provider, error) { return nil, errors.New("unused") }
func (f *fakeGateway) ListModels() []llm.ModelInfo          { return f.models }

func certificate(t *testing.T) []byte {
	return testutil.PDF(t,
		testutil.Page("ACTE DE DECES", "Ne le 01/01/1950", "Decede le 03/04/2024"),
		testutil.Page("second page"),
	)
}

func TestExtractDates_ExactReply(t *testing.T) {
	gw := &fakeGateway{reply: `{"dob":"01/01/1950","dod":""}`}
	v := NewVisionService(gw, document.NewRasterizer(72), "gpt-4o", WithMaxTokens(300))

	got, err := v.ExtractDates(context.Background(), certificate(t), 72)
	require.NoError(t, err)
	assert.Equal(t, &DatePair{DOB: "01/01/1950", DOD: ""}, got)

	assert.Equal(t, "gpt-4o", gw.req.Model)
	assert.Equal(t, 300, gw.req.MaxTokens)
	assert.True(t, gw.req.JSONResponse)
	require.Len(t, gw.req.Messages, 1)
	require.Len(t, gw.req.Messages[0].Images, 1)

	img := gw.req.Messages[0].Images[0]
	assert.Equal(t, "image/jpeg", img.MimeType)
	raw, err := base64.StdEncoding.DecodeString(img.Base64)
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	w, h := document.ExpectedSize(595.28, 841.89, 72)
	assert.InDelta(t, w, decoded.Bounds().Dx(), 1)
	assert.InDelta(t, h, decoded.Bounds().Dy(), 1)
}

func TestExtractDates_UpstreamFailure(t *testing.T) {
	v := NewVisionService(&fakeGateway{err: errors.New("connection reset")}, document.NewRasterizer(36), "")

	_, err := v.ExtractDates(context.Background(), certificate(t), 0)
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Equal(t, 500, apperr.Status(err))
}

func TestExtractDates_Timeout(t *testing.T) {
	gw := &fakeGateway{reply: `{}`, delay: time.Second}
	v := NewVisionService(gw, document.NewRasterizer(36), "", WithTimeout(20*time.Millisecond))

	_, err := v.ExtractDates(context.Background(), certificate(t), 0)
	require.ErrorIs(t, err, apperr.ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtractDates_NotPDF(t *testing.T) {
	gw := &fakeGateway{}
	v := NewVisionService(gw, document.NewRasterizer(36), "")

	_, err := v.ExtractDates(context.Background(), []byte("not a pdf"), 0)
	assert.ErrorIs(t, err, apperr.ErrDocumentFormat)
	assert.Empty(t, gw.req.Model)
}

func TestExtractDates_NonJSONReply(t *testing.T) {
	v := NewVisionService(&fakeGateway{reply: "The date of birth is 01/01/1950."}, document.NewRasterizer(36), "")

	got, err := v.ExtractDates(context.Background(), certificate(t), 0)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, apperr.ErrExtractionModel)
}

func TestVisionService_KnownModel(t *testing.T) {
	gw := &fakeGateway{models: []llm.ModelInfo{
		{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
		{Provider: "openai", Model: "gpt-4o"},
	}}
	raster := document.NewRasterizer(0)

	assert.True(t, NewVisionService(gw, raster, "gpt-4o", WithProvider("openai")).KnownModel())
	assert.True(t, NewVisionService(gw, raster, "gpt-4o").KnownModel())
	assert.False(t, NewVisionService(gw, raster, "gpt-4o", WithProvider("anthropic")).KnownModel())
	assert.False(t, NewVisionService(gw, raster, "gpt-5-vision", WithProvider("openai")).KnownModel())
}

func TestParseDatePair(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    *DatePair
		wantErr bool
	}{
		{"both dates", `{"dob":"01/01/1950","dod":"03/04/2024"}`, &DatePair{"01/01/1950", "03/04/2024"}, false},
		{"missing dod", `{"dob":"01/01/1950"}`, &DatePair{"01/01/1950", ""}, false},
		{"empty object", `{}`, &DatePair{}, false},
		{"null field", `{"dob":null,"dod":"03/04/2024"}`, &DatePair{"", "03/04/2024"}, false},
		{"surrounding whitespace trimmed", ` {"dob":" 01/01/1950 "} `, &DatePair{"01/01/1950", ""}, false},
		{"malformed date dropped", `{"dob":"1/1/1950","dod":"unknown"}`, &DatePair{}, false},
		{"extra fields ignored", `{"dob":"","dod":"","confidence":0.9}`, &DatePair{}, false},
		{"plain text", `dob: 01/01/1950`, nil, true},
		{"python literal", `{'dob': '01/01/1950', 'dod': ''}`, nil, true},
		{"code fence", "```json\n{\"dob\":\"\"}\n```", nil, true},
		{"array", `["01/01/1950"]`, nil, true},
		{"null", `null`, nil, true},
		{"number field", `{"dob":19500101}`, nil, true},
		{"object field", `{"dod":{"day":1}}`, nil, true},
		{"trailing object", `{"dob":""} {"dod":""}`, nil, true},
		{"trailing brace", `{"dob":"01/01/1950","dod":""}}`, nil, true},
		{"trailing bracket", `{"dob":"01/01/1950","dod":""}]`, nil, true},
		{"trailing whitespace", "{\"dob\":\"01/01/1950\"}\n ", &DatePair{DOB: "01/01/1950"}, false},
		{"empty", ``, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDatePair(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperr.ErrExtractionModel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
