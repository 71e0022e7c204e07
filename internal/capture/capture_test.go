package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/config"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) CreateScreenshot(ctx context.Context, shot *schemas.Screenshot) (int64, error) {
	args := m.Called(ctx, shot)
	return args.Get(0).(int64), args.Error(1)
}

// failingStrategy always rejects the shot.
type failingStrategy struct{ name string }

func (f failingStrategy) Name() string { return f.name }
func (f failingStrategy) Persist(context.Context, Shot) (Ref, error) {
	return Ref{}, errors.New(f.name + " unavailable")
}

func testShot() Shot {
	return Shot{ExecutionID: 7, StepNumber: 2, Filename: "step_2_1700000000000.png", Data: []byte("\x89PNGdata")}
}

func TestStoreStrategy(t *testing.T) {
	w := new(mockWriter)
	w.On("CreateScreenshot", mock.Anything, mock.MatchedBy(func(s *schemas.Screenshot) bool {
		return s.ExecutionID == 7 && s.StepNumber == 2 && s.ContentType == "image/png" && len(s.Data) > 0
	})).Return(int64(42), nil)

	ref, err := NewStoreStrategy(w).Persist(context.Background(), testShot())
	require.NoError(t, err)
	assert.Equal(t, "/api/automation/screenshots/42", ref.URL)
	require.NotNil(t, ref.ScreenshotID)
	assert.Equal(t, int64(42), *ref.ScreenshotID)
	w.AssertExpectations(t)
}

func TestBucketStrategy(t *testing.T) {
	fs := afero.NewMemMapFs()
	ref, err := NewBucketStrategy(fs, "shots").Persist(context.Background(), testShot())
	require.NoError(t, err)

	path := filepath.Join("shots", "7", "2_step_2_1700000000000.png")
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, testShot().Data, data)
	assert.True(t, strings.HasPrefix(ref.URL, "file://"))
	assert.True(t, strings.HasSuffix(ref.URL, "/shots/7/2_step_2_1700000000000.png"))
	assert.Nil(t, ref.ScreenshotID)
}

func TestBucketStrategy_ReadOnly(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	_, err := NewBucketStrategy(fs, "shots").Persist(context.Background(), testShot())
	assert.Error(t, err)
}

func TestInlineStrategy(t *testing.T) {
	ref, err := InlineStrategy{}.Persist(context.Background(), testShot())
	require.NoError(t, err)

	prefix := "data:image/png;base64,"
	require.True(t, strings.HasPrefix(ref.URL, prefix))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ref.URL, prefix))
	require.NoError(t, err)
	assert.Equal(t, testShot().Data, decoded)
}

func TestChain_FirstSuccessWins(t *testing.T) {
	w := new(mockWriter)
	w.On("CreateScreenshot", mock.Anything, mock.Anything).Return(int64(5), nil).Once()
	fs := afero.NewMemMapFs()

	chain := NewChain(zap.NewNop(), NewStoreStrategy(w), NewBucketStrategy(fs, "shots"), InlineStrategy{})
	ref, err := chain.Persist(context.Background(), testShot())
	require.NoError(t, err)

	assert.Equal(t, "store", ref.Strategy)
	assert.Equal(t, "/api/automation/screenshots/5", ref.URL)
	exists, _ := afero.DirExists(fs, "shots")
	assert.False(t, exists, "later strategies must not run after a success")
	w.AssertExpectations(t)
}

func TestChain_FallsBackInOrder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	w := new(mockWriter)
	w.On("CreateScreenshot", mock.Anything, mock.Anything).Return(int64(0), errors.New("connection refused"))

	chain := NewChain(zap.New(core),
		NewStoreStrategy(w),
		NewBucketStrategy(afero.NewReadOnlyFs(afero.NewMemMapFs()), "shots"),
		InlineStrategy{},
	)
	ref, err := chain.Persist(context.Background(), testShot())
	require.NoError(t, err)

	assert.Equal(t, "inline", ref.Strategy)
	assert.True(t, strings.HasPrefix(ref.URL, "data:image/png;base64,"))
	assert.Equal(t, 2, logs.FilterMessage("Screenshot strategy failed.").Len())
	assert.Equal(t, 1, logs.FilterMessage("Screenshot stored by fallback strategy.").Len())
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(zap.NewNop(), failingStrategy{"a"}, failingStrategy{"b"})
	_, err := chain.Persist(context.Background(), testShot())

	assert.ErrorIs(t, err, ErrAllStrategiesFailed)
	assert.ErrorContains(t, err, "a unavailable")
	assert.ErrorContains(t, err, "b unavailable")
}

func TestNewDefaultChain(t *testing.T) {
	w := new(mockWriter)

	chain := NewDefaultChain(w, config.CaptureConfig{BucketDir: "shots"}, zap.NewNop())
	assert.Equal(t, []string{"store", "bucket", "inline"}, chain.Strategies())

	chain = NewDefaultChain(nil, config.CaptureConfig{}, zap.NewNop())
	assert.Equal(t, []string{"inline"}, chain.Strategies())
}

func TestFilename(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "error_step_3_1700000000123.png", Filename("error_step", 3, at))
}
