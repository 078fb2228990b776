package dish

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pageza/nibble/backend/internal/embedding"
	"github.com/pageza/nibble/backend/internal/errortypes"
	"github.com/pageza/nibble/backend/internal/retrieval"
	"github.com/pageza/nibble/backend/internal/vector"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedImage(ctx context.Context, data []byte, opts embedding.ImageOptions) (vector.Embedding, error) {
	args := m.Called(ctx, data, opts)
	if v := args.Get(0); v != nil {
		return v.(vector.Embedding), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]vector.Embedding, error) {
	args := m.Called(ctx, texts)
	if v := args.Get(0); v != nil {
		return v.([]vector.Embedding), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) QueryNeighbors(ctx context.Context, query vector.Embedding, topK int) ([]retrieval.Neighbor, error) {
	args := m.Called(ctx, query, topK)
	if v := args.Get(0); v != nil {
		return v.([]retrieval.Neighbor), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, requestID string, data []byte) (string, error) {
	args := m.Called(ctx, requestID, data)
	return args.String(0), args.Error(1)
}

var photo = []byte("\x89PNG fake photo bytes")

func photoB64() string {
	return base64.StdEncoding.EncodeToString(photo)
}

func sampleNeighbors(n int) []retrieval.Neighbor {
	out := make([]retrieval.Neighbor, n)
	for i := range out {
		out[i] = retrieval.Neighbor{
			ID:          "dish_" + string(rune('a'+i)),
			Score:       0.9 - float64(i)*0.01,
			Ingredients: []string{"rice"},
		}
	}
	return out
}

func float(f float64) *float64 { return &f }

func TestService_IdentifyFromNeighbors(t *testing.T) {
	embedder := new(MockEmbedder)
	retriever := new(MockRetriever)
	generator := new(MockGenerator)

	query := vector.Embedding{1, 0}
	embedder.On("EmbedImage", mock.Anything, photo, embedding.ImageOptions{TestTimeAugment: false}).Return(query, nil)
	retriever.On("QueryNeighbors", mock.Anything, query, DefaultTopK).Return(sampleNeighbors(10), nil)
	generator.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "Context (top 8 neighbors)") &&
			strings.Contains(prompt, `"estimated_protein"`) &&
			strings.Contains(prompt, "dish_h") &&
			!strings.Contains(prompt, "dish_i")
	})).Return(`{"dish_title":"Fried rice"}`, nil)

	svc := NewService(embedder, retriever, generator, Config{}, nil)
	result, err := svc.IdentifyFromNeighbors(context.Background(), photoB64(), 0)

	require.NoError(t, err)
	assert.Equal(t, ModeNeighborsOnly, result.Mode)
	assert.NotEmpty(t, result.RequestID)
	assert.Len(t, result.Neighbors, 10, "all neighbors are returned, only the prompt is capped")
	assert.Nil(t, result.Ranked)
	require.NotNil(t, result.Summary)
	assert.Equal(t, `{"dish_title":"Fried rice"}`, *result.Summary)
	embedder.AssertNotCalled(t, "EmbedTexts", mock.Anything, mock.Anything)
	generator.AssertExpectations(t)
}

func TestService_NoNeighborsSkipsGeneration(t *testing.T) {
	embedder := new(MockEmbedder)
	retriever := new(MockRetriever)
	generator := new(MockGenerator)

	embedder.On("EmbedImage", mock.Anything, mock.Anything, mock.Anything).Return(vector.Embedding{1}, nil)
	retriever.On("QueryNeighbors", mock.Anything, mock.Anything, mock.Anything).Return([]retrieval.Neighbor{}, nil)

	svc := NewService(embedder, retriever, generator, Config{}, nil)

	for _, mode := range []Mode{ModeNeighborsOnly, ModeHybrid} {
		result, err := svc.Infer(context.Background(), Request{Mode: mode, ImageB64: photoB64()})

		require.NoError(t, err)
		assert.NotNil(t, result.Neighbors)
		assert.Empty(t, result.Neighbors)
		assert.Nil(t, result.Summary)
	}
	generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	embedder.AssertNotCalled(t, "EmbedTexts", mock.Anything, mock.Anything)
}

func TestService_InvalidInputDoesNoWork(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{name: "empty image", req: Request{ImageB64: "  "}, field: "image_b64"},
		{name: "not base64", req: Request{ImageB64: "not-base64-!!"}, field: "image_b64"},
		{name: "data url without base64", req: Request{ImageB64: "data:image/png,abc"}, field: "image_b64"},
		{name: "negative alpha", req: Request{Mode: ModeHybrid, ImageB64: photoB64(), Alpha: float(-0.1)}, field: "alpha"},
		{name: "NaN beta", req: Request{Mode: ModeHybrid, ImageB64: photoB64(), Beta: float(math.NaN())}, field: "beta"},
		{name: "both weights zero", req: Request{Mode: ModeHybrid, ImageB64: photoB64(), Alpha: float(0), Beta: float(0)}, field: "alpha"},
		{name: "unknown mode", req: Request{Mode: Mode(7), ImageB64: photoB64()}, field: "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := new(MockEmbedder)
			retriever := new(MockRetriever)
			generator := new(MockGenerator)
			archiver := new(MockArchiver)
			svc := NewService(embedder, retriever, generator, Config{}, nil, WithArchiver(archiver))

			_, err := svc.Infer(context.Background(), tt.req)

			var invalid *errortypes.InvalidInputError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
			embedder.AssertNotCalled(t, "EmbedImage", mock.Anything, mock.Anything, mock.Anything)
			retriever.AssertNotCalled(t, "QueryNeighbors", mock.Anything, mock.Anything, mock.Anything)
			generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			archiver.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_AcceptedImageEncodings(t *testing.T) {
	encodings := map[string]string{
		"padded":   base64.StdEncoding.EncodeToString(photo),
		"unpadded": base64.RawStdEncoding.EncodeToString(photo),
		"data url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(photo),
	}

	for name, encoded := range encodings {
		t.Run(name, func(t *testing.T) {
			embedder := new(MockEmbedder)
			retriever := new(MockRetriever)
			embedder.On("EmbedImage", mock.Anything, photo, mock.Anything).Return(vector.Embedding{1}, nil)
			retriever.On("QueryNeighbors", mock.Anything, mock.Anything, mock.Anything).Return([]retrieval.Neighbor{}, nil)

			_, err := NewService(embedder, retriever, new(MockGenerator), Config{}, nil).IdentifyFromNeighbors(context.Background(), encoded, 3)

			require.NoError(t, err)
			embedder.AssertExpectations(t)
		})
	}
}

func TestService_TopKResolution(t *testing.T) {
	tests := []struct {
		requested int
		expected  int
	}{
		{requested: 0, expected: 10},
		{requested: 3, expected: 3},
		{requested: 500, expected: 50},
		{requested: -1, expected: -1},
	}

	for _, tt := range tests {
		embedder := new(MockEmbedder)
		retriever := new(MockRetriever)
		embedder.On("EmbedImage", mock.Anything, mock.Anything, mock.Anything).Return(vector.Embedding{1}, nil)
		retriever.On("QueryNeighbors", mock.Anything, mock.Anything, tt.expected).Return([]retrieval.Neighbor{}, nil)

		_, err := NewService(embedder, retriever, new(MockGenerator), Config{}, nil).IdentifyFromNeighbors(context.Background(), photoB64(), tt.requested)

		require.NoError(t, err)
		retriever.AssertExpectations(t)
	}
}

func TestService_StageFailures(t *testing.T) {
	t.Run("embedding failure propagates", func(t *testing.T) {
		embedder := new(MockEmbedder)
		embedder.On("EmbedImage", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &errortypes.InvalidImageError{Err: errors.New("unknown format")})
		retriever := new(MockRetriever)

		_, err := NewService(embedder, retriever, new(MockGenerator), Config{}, nil).IdentifyFromNeighbors(context.Background(), photoB64(), 5)

		assert.Equal(t, errortypes.KindInvalidImage, errortypes.KindOf(err))
		retriever.AssertNotCalled(t, "QueryNeighbors", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("retrieval failure propagates", func(t *testing.T) {
		embedder := new(MockEmbedder)
		retriever := new(MockRetriever)
		embedder.On("EmbedImage", mock.Anything, mock.Anything, mock.Anything).Return(vector.Embedding{1}, nil)
		retriever.On("QueryNeighbors", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &errortypes.RetrievalError{Err: errors.New("index unavailable")})

		_, err := NewService(embedder, retriever, new(MockGenerator), Config{}, nil).IdentifyFromNeighbors(context.Background(), photoB64(), 5)

		assert.Equal(t, errortypes.KindRetrieval, errortypes.KindOf(err))
	})

	t.Run("generator failure is a summarization error", func(t *testing.T) {
		embedder := new(MockEmbedder)
		retriever := new(MockRetriever)
		generator := new(MockGenerator)
		embedder.On("EmbedImage", mock.Anything, mock.Anything, mock.Anything).Return(vector.Embedding{1}, nil)
		retriever.On("QueryNeighbors", mock.Anything, mock.Anything, mock.Anything).Return(sampleNeighbors(2), nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))

		result, err := NewService(embedder, retriever, generator, Config{}, nil).IdentifyFromNeighbors(context.Background(), photoB64(), 5)

		var summarization *errortypes.SummarizationError
		require.ErrorAs(t, err, &summarization)
		assert.Nil(t, result)
	})

	t.Run("empty generation is no summary", func(t *testing.T) {
		embedder := new(MockEmbedder)
		retriever := new(MockRetriever)
		generator := new(MockGenerator)
		embedder.On("EmbedImage", mock.Anything, mock.Anything, mock.Anything).Return(vector.Embedding{1}, nil)
		retriever.On("QueryNeighbors", mock.Anything, mock.Anything, mock.Anything).Return(sampleNeighbors(2), nil)
		generator.On("Generate", mock.Anything, mock.Anything).Return("", nil)

		result, err := NewService(embedder, retriever, generator, Config{}, nil).IdentifyFromNeighbors(context.Background(), photoB64(), 5)

		require.NoError(t, err)
		assert.Len(t, result.Neighbors, 2)
		assert.Nil(t, result.Summary)
	})
}

func TestService_ArchiveFailureDoesNotFailRequest(t *testing.T) {
	embedder := new(MockEmbedder)
	retriever := new(MockRetriever)
	archiver := new(MockArchiver)
	embedder.On("EmbedImage", mock.Anything, mock.Anything, mock.Anything).Return(vector.Embedding{1}, nil)
	retriever.On("QueryNeighbors", mock.Anything, mock.Anything, mock.Anything).Return([]retrieval.Neighbor{}, nil)
	archiver.On("Archive", mock.Anything, mock.AnythingOfType("string"), photo).Return("", errors.New("bucket missing"))

	svc := NewService(embedder, retriever, new(MockGenerator), Config{}, nil, WithArchiver(archiver))
	result, err := svc.IdentifyFromNeighbors(context.Background(), photoB64(), 5)

	require.NoError(t, err)
	assert.NotNil(t, result)
	archiver.AssertExpectations(t)
}

// stubEncoder returns the same image vector for every photo and looks texts up
// in a table, defaulting to an orthogonal vector.
type stubEncoder struct {
	image []float32
	texts map[string][]float32
}

func (s *stubEncoder) Dimension() int { return 3 }

func (s *stubEncoder) EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i := range images {
		out[i] = s.image
	}
	return out, nil
}

func (s *stubEncoder) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := s.texts[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 1, 0}
		}
	}
	return out, nil
}

type stubIndex struct {
	matches []retrieval.Match
}

func (s *stubIndex) Query(ctx context.Context, req retrieval.QueryRequest) ([]retrieval.Match, error) {
	return s.matches, nil
}

func testPhotoB64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestService_IdentifyHybrid_EndToEnd(t *testing.T) {
	enc := &stubEncoder{
		image: []float32{1, 0, 0},
		texts: map[string][]float32{"tomato, basil, mozzarella": {1, 0, 0}},
	}
	provider := embedding.NewProvider(embedding.Config{Model: "stub"}, func(ctx context.Context) (embedding.Encoder, error) {
		return enc, nil
	}, nil)
	index := &stubIndex{matches: []retrieval.Match{
		{ID: "n1", Score: 0.9, Metadata: map[string]any{"ingredients": `["Beef","Bun"]`, "total_calories": 700.0}},
		{ID: "n2", Score: 0.8, Metadata: map[string]any{"ingredients": `["Noodles"]`}},
		{ID: "n3", Score: 0.7, Metadata: map[string]any{"ingredients": `[{"name":"Tomato"},{"name":"Basil"},{"name":"Mozzarella"}]`}},
	}}
	retriever := retrieval.NewRetriever(index, retrieval.Config{}, nil)

	var prompt string
	generator := new(MockGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).Return(`{"dish_title":"Caprese"}`, nil).Run(func(args mock.Arguments) {
		prompt = args.String(1)
	})

	svc := NewService(provider, retriever, generator, Config{}, nil)
	imageB64 := testPhotoB64(t)
	result, err := svc.IdentifyHybrid(context.Background(), imageB64, HybridOptions{Alpha: float(0.5), Beta: float(0.5)})

	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, result.Mode)
	require.Len(t, result.Ranked, 3)
	assert.Equal(t, "n3", result.Ranked[0].ID)
	assert.InDelta(t, 0.85, result.Ranked[0].FusedScore, 1e-6)
	assert.Equal(t, "n1", result.Ranked[1].ID)
	assert.Equal(t, "n2", result.Ranked[2].ID)
	assert.Equal(t, "n1", result.Neighbors[0].ID, "retrieval order is kept alongside the ranking")

	require.NotNil(t, result.Summary)
	assert.Equal(t, `{"dish_title":"Caprese"}`, *result.Summary)
	assert.Contains(t, prompt, excerpt(imageB64, DefaultExcerptLength))
	assert.Contains(t, prompt, `"total_protein"`)
	assert.Less(t, strings.Index(prompt, `"id": "n3"`), strings.Index(prompt, `"id": "n1"`))
}
