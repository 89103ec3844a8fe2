package upload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/api"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/apitest"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/transport/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gifBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

type fakeAPI struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (f *fakeAPI) UploadImage(_ context.Context, filename, contentType string, r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	_, _ = io.Copy(io.Discard, r)
	f.types = append(f.types, contentType)
	return "https://cdn.example.com/" + filename, nil
}

func message(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

func TestUpload_SingleMode(t *testing.T) {
	f := &fakeAPI{}
	u := New(f, ModeSingle, 0)

	url, err := u.Upload(context.Background(), "cover.png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/cover.png", url)
	assert.Equal(t, url, u.URL())
	assert.Equal(t, []string{"image/png"}, f.types)
	assert.True(t, u.Disabled())

	_, err = u.Upload(context.Background(), "other.png", bytes.NewReader(pngBytes(t)))
	assert.Equal(t, msgOccupied, message(err))

	assert.True(t, u.Remove(url))
	assert.False(t, u.Remove(url))
	assert.Equal(t, "", u.URL())

	_, err = u.Upload(context.Background(), "anim.gif", bytes.NewReader(gifBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, "", u.Err())
}

func TestUpload_MultipleModeLimit(t *testing.T) {
	u := New(&fakeAPI{}, ModeMultiple, FormMaxImages)
	u.SetImages("a", "b", "c", "d")

	_, err := u.Upload(context.Background(), "e.png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.Len(t, u.Images(), 5)

	_, err = u.Upload(context.Background(), "f.png", bytes.NewReader(pngBytes(t)))
	assert.Equal(t, "Maximum 5 images allowed", message(err))
	assert.Equal(t, "Maximum 5 images allowed", u.Err())
	assert.Len(t, u.Images(), 5)
}

func TestUpload_DefaultLimit(t *testing.T) {
	u := New(&fakeAPI{}, ModeMultiple, 0)
	assert.Equal(t, DefaultMaxImages, u.maxImages)
}

func TestUpload_SizeCheckedFirst(t *testing.T) {
	u := New(&fakeAPI{}, ModeMultiple, 1)
	u.SetImages("full")

	big := bytes.Repeat([]byte("x"), MaxFileSize+1)
	_, err := u.Upload(context.Background(), "big.txt", bytes.NewReader(big))
	assert.Equal(t, "File size must be less than 5MB", message(err))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestUpload_RejectsNonImages(t *testing.T) {
	f := &fakeAPI{}
	u := New(f, ModeMultiple, 0)

	_, err := u.Upload(context.Background(), "notes.png", strings.NewReader("just some text, renamed"))
	assert.Equal(t, msgNotImage, message(err))
	assert.Empty(t, f.types)
}

func TestUpload_Failure(t *testing.T) {
	f := &fakeAPI{err: domain.ErrNetwork(errors.New("reset"))}
	u := New(f, ModeSingle, 0)

	_, err := u.Upload(context.Background(), "c.png", bytes.NewReader(pngBytes(t)))
	assert.Equal(t, "Upload failed. Please try again.", message(err))
	assert.True(t, domain.IsKind(err, domain.KindNetwork))
	assert.Equal(t, "Upload failed. Please try again.", u.Err())
	assert.Empty(t, u.Images())
	assert.False(t, u.Disabled())
}

func TestUploadFile_AgainstServer(t *testing.T) {
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	client := api.New(srv.URL, httpclient.New(httpclient.DefaultConfig()))

	path := filepath.Join(t.TempDir(), "poster.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t), 0o600))

	u := New(client, ModeSingle, 0)
	url, err := u.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, srv.URL+"/uploads/"))
	assert.True(t, strings.HasSuffix(url, "poster.png"))
}

func TestUpload_ConcurrentCallsRespectLimit(t *testing.T) {
	data := pngBytes(t)
	for round := 0; round < 50; round++ {
		u := New(&fakeAPI{}, ModeMultiple, 2)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := u.Upload(context.Background(), "img.png", bytes.NewReader(data))
				if err != nil {
					assert.True(t, errors.Is(err, domain.ErrBusy) || strings.HasPrefix(message(err), "Maximum"), "unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		require.LessOrEqual(t, len(u.Images()), 2)
	}
}

func TestUpload_RejectedTypeReleasesGuard(t *testing.T) {
	u := New(&fakeAPI{}, ModeSingle, 0)

	_, err := u.Upload(context.Background(), "notes.txt", strings.NewReader("plain text"))
	assert.Equal(t, msgNotImage, message(err))

	_, err = u.Upload(context.Background(), "cover.png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
}
