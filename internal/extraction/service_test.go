package extraction

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docintel/internal/apperr"
	"github.com/nikhilbhutani/docintel/internal/multimodal"
)

var minimalPDF = []byte("%PDF-1.4\n%stub\n")

type stubExtractors struct {
	signDate *string
	dates    *multimodal.DatePair
	text     string
	err      error

	gotLanguage string
	gotDPI      int
	ctxErr      error
	wait        chan struct{}
}

func (s *stubExtractors) ExtractSigningDate(ctx context.Context, _ []byte) (*string, error) {
	return s.signDate, s.err
}

func (s *stubExtractors) ExtractDates(_ context.Context, _ []byte, dpi int) (*multimodal.DatePair, error) {
	s.gotDPI = dpi
	return s.dates, s.err
}

func (s *stubExtractors) ExtractText(ctx context.Context, _ []byte, language string, dpi int) (string, error) {
	if s.wait != nil {
		<-s.wait
	}
	s.gotLanguage, s.gotDPI = language, dpi
	s.ctxErr = ctx.Err()
	return s.text, s.err
}

func newService(stub *stubExtractors, poolSize int) *Service {
	return NewService(stub, stub, stub, NewPool(poolSize, nil), nil)
}

func TestExtract_Strategies(t *testing.T) {
	date := "15/03/2021"
	stub := &stubExtractors{
		signDate: &date,
		dates:    &multimodal.DatePair{DOB: "01/01/1950"},
		text:     "bonjour",
	}
	svc := newService(stub, 2)

	res, err := svc.Extract(context.Background(), Request{Strategy: StrategySignDate, Document: minimalPDF})
	require.NoError(t, err)
	assert.Equal(t, &date, res.SignDate)

	res, err = svc.Extract(context.Background(), Request{Strategy: StrategyDates, Document: minimalPDF, DPI: 150})
	require.NoError(t, err)
	assert.Equal(t, "01/01/1950", res.Dates.DOB)
	assert.Equal(t, 150, stub.gotDPI)

	res, err = svc.Extract(context.Background(), Request{Strategy: StrategyOCR, Document: minimalPDF, Language: "eng"})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", res.Text)
	assert.Equal(t, "eng", stub.gotLanguage)
	assert.Equal(t, StrategyOCR, res.Strategy)
}

func TestExtract_SignDateAbsentIsNotAnError(t *testing.T) {
	svc := newService(&stubExtractors{}, 1)

	res, err := svc.Extract(context.Background(), Request{Strategy: StrategySignDate, Document: minimalPDF})
	require.NoError(t, err)
	assert.Nil(t, res.SignDate)
}

func TestExtract_RejectsNonPDF(t *testing.T) {
	svc := newService(&stubExtractors{}, 1)

	for _, s := range []Strategy{StrategySignDate, StrategyDates, StrategyOCR} {
		_, err := svc.Extract(context.Background(), Request{Strategy: s, Document: []byte("\x89PNG\r\n")})
		assert.ErrorIs(t, err, apperr.ErrDocumentFormat, s)

		_, err = svc.Extract(context.Background(), Request{Strategy: s})
		assert.ErrorIs(t, err, apperr.ErrDocumentFormat, s)
	}
}

func TestExtract_UnknownStrategy(t *testing.T) {
	_, err := newService(&stubExtractors{}, 1).Extract(context.Background(), Request{Strategy: "fax", Document: minimalPDF})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestExtract_PropagatesExtractorErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ocr", apperr.OCREngine(errors.New("exit 1"), "tesseract failed"), 500},
		{"model", apperr.ExtractionModel(nil, "not json"), 500},
		{"upstream", apperr.Upstream(errors.New("timeout"), "vision"), 500},
		{"document", apperr.DocumentFormat(nil, "bad page"), 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newService(&stubExtractors{err: tt.err}, 1).Extract(context.Background(), Request{Strategy: StrategyOCR, Document: minimalPDF})
			assert.Equal(t, tt.err, err)
			assert.Equal(t, tt.status, apperr.Status(err))
		})
	}
}

func TestExtract_RunsToCompletionAfterCancel(t *testing.T) {
	stub := &stubExtractors{text: "done", wait: make(chan struct{})}
	svc := newService(stub, 1)

	ctx, cancel := context.WithCancel(context.Background())
	resCh := make(chan *Result, 1)
	go func() {
		res, _ := svc.Extract(ctx, Request{Strategy: StrategyOCR, Document: minimalPDF})
		resCh <- res
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	close(stub.wait)

	res := <-resCh
	require.NotNil(t, res)
	assert.Equal(t, "done", res.Text)
	assert.NoError(t, stub.ctxErr)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2, nil)
	var running, peak atomic.Int32

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			Do(context.Background(), p, func(context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, p.Size())
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewPool(1, nil)

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	v, err := Do(context.Background(), p, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	p := NewPool(1, nil)
	release := make(chan struct{})
	go Do(context.Background(), p, func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	defer close(release)
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Do(ctx, p, func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
