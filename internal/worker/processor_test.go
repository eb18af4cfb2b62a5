package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/snapvault/snapvault-api/internal/domain/photo"
	img "github.com/snapvault/snapvault-api/internal/pkg/imaging"
	"github.com/snapvault/snapvault-api/internal/pkg/objstore"
	"github.com/snapvault/snapvault-api/internal/queue"
)

// photoStoreStub is a mock for PhotoStore
type photoStoreStub struct {
	photo *photo.Photo

	processedKey    string
	processedWidth  *int
	processedHeight *int
	markedError     string
}

func (s *photoStoreStub) GetByID(_ context.Context, _ uuid.UUID) (*photo.Photo, error) {
	return s.photo, nil
}

func (s *photoStoreStub) MarkProcessed(_ context.Context, _ uuid.UUID, keyThumb string, width, height *int) error {
	s.processedKey = keyThumb
	s.processedWidth = width
	s.processedHeight = height
	return nil
}

func (s *photoStoreStub) MarkError(_ context.Context, _ uuid.UUID, msg string) error {
	s.markedError = msg
	return nil
}

// objectStoreStub is a mock for ObjectStore
type objectStoreStub struct {
	fetchData []byte
	fetchErr  error

	fetchCalls int
	storeCalls int
	storedKey  string
	storedData []byte
	storedMIME string
	storeErr   error
}

func (s *objectStoreStub) FetchWithRetry(_ context.Context, _ string, _ int) ([]byte, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.fetchData, nil
}

func (s *objectStoreStub) StoreWithRetry(_ context.Context, key string, data []byte, contentType string, _ objstore.PutOptions, _ int) error {
	s.storeCalls++
	if s.storeErr != nil {
		return s.storeErr
	}
	s.storedKey = key
	s.storedData = data
	s.storedMIME = contentType
	return nil
}

func tinyJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	im := imaging.New(width, height, color.NRGBA{R: 180, G: 180, B: 180, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, im, imaging.JPEG, imaging.JPEGQuality(70)); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func animatedGIF(t *testing.T) []byte {
	t.Helper()
	g := &gif.GIF{}
	for i := 0; i < 2; i++ {
		pal := image.NewPaletted(image.Rect(0, 0, 4, 4), []color.Color{color.Black, color.White})
		g.Image = append(g.Image, pal)
		g.Delay = append(g.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	photos    *photoStoreStub
	store     *objectStoreStub
	processor *Processor
	job       queue.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	albumID := uuid.New()
	photoID := uuid.New()
	key := "albums/" + albumID.String() + "/original/abc.jpg"

	photos := &photoStoreStub{photo: &photo.Photo{
		ID:          photoID,
		AlbumID:     albumID,
		KeyOriginal: key,
		Status:      photo.StatusPending,
	}}
	store := &objectStoreStub{fetchData: tinyJPEG(t, 8, 6)}

	return &fixture{
		photos:    photos,
		store:     store,
		processor: NewProcessor(photos, store, img.NewProcessor(img.DefaultConfig()), 3),
		job: queue.Job{
			PhotoID:     photoID.String(),
			AlbumID:     albumID.String(),
			KeyOriginal: key,
		},
	}
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t)

	res, err := f.processor.Process(context.Background(), f.job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Skipped {
		t.Fatalf("skipped: %s", res.Reason)
	}

	wantKey := strings.Replace(f.job.KeyOriginal, "/original/", "/thumb/", 1)
	if res.KeyThumb != wantKey {
		t.Fatalf("keyThumb = %q, want %q", res.KeyThumb, wantKey)
	}
	if f.store.storedKey != wantKey || f.store.storedMIME != img.MIMEJPEG {
		t.Fatalf("stored %q as %q", f.store.storedKey, f.store.storedMIME)
	}
	if f.photos.processedKey != wantKey {
		t.Fatalf("record updated with %q, want %q", f.photos.processedKey, wantKey)
	}
	if f.photos.processedWidth == nil || *f.photos.processedWidth != 8 {
		t.Fatalf("width = %v, want 8", f.photos.processedWidth)
	}

	// The uploaded derivative must decode within the configured bound.
	out, err := imaging.Decode(bytes.NewReader(f.store.storedData))
	if err != nil {
		t.Fatalf("derivative does not decode: %v", err)
	}
	if out.Bounds().Dx() > 960 || out.Bounds().Dy() > 960 {
		t.Fatalf("derivative %dx%d exceeds bound", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestProcessPhotoGone(t *testing.T) {
	f := newFixture(t)
	f.photos.photo = nil

	res, err := f.processor.Process(context.Background(), f.job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Skipped || res.Reason != SkipNotFound {
		t.Fatalf("res = %+v, want skipped not_found", res)
	}
	if f.photos.markedError != "" {
		t.Fatal("a dropped job must not mutate the record")
	}
}

func TestProcessAlbumMismatch(t *testing.T) {
	f := newFixture(t)
	f.job.AlbumID = uuid.NewString()

	_, err := f.processor.Process(context.Background(), f.job)
	if !errors.Is(err, ErrAlbumMismatch) {
		t.Fatalf("err = %v, want ErrAlbumMismatch", err)
	}
	if f.photos.markedError != "album_mismatch" {
		t.Fatalf("lastError = %q, want album_mismatch", f.photos.markedError)
	}
	if !Permanent(err) {
		t.Fatal("album mismatch must be permanent")
	}
}

func TestProcessStaleJobKey(t *testing.T) {
	f := newFixture(t)
	f.job.KeyOriginal = "albums/" + f.job.AlbumID + "/original/superseded.jpg"

	res, err := f.processor.Process(context.Background(), f.job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Skipped || res.Reason != SkipStaleJobKey {
		t.Fatalf("res = %+v, want skipped stale_job_key", res)
	}
	if f.photos.markedError != "" || f.photos.processedKey != "" {
		t.Fatal("a stale job must not mutate the record")
	}
	if f.store.fetchCalls != 0 {
		t.Fatal("a stale job must not touch storage")
	}
}

func TestProcessRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	thumb := strings.Replace(f.job.KeyOriginal, "/original/", "/thumb/", 1)
	f.photos.photo.Status = photo.StatusProcessed
	f.photos.photo.KeyThumb = &thumb

	res, err := f.processor.Process(context.Background(), f.job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Skipped || res.Reason != SkipAlreadyProcessed {
		t.Fatalf("res = %+v, want skipped already_processed", res)
	}
	if res.KeyThumb != thumb {
		t.Fatalf("keyThumb = %q, want existing %q", res.KeyThumb, thumb)
	}
	if f.store.fetchCalls != 0 || f.store.storeCalls != 0 {
		t.Fatal("redelivery must not touch storage")
	}
}

func TestProcessThumbWithoutStatus(t *testing.T) {
	// Crash window: thumbnail uploaded and key recorded, but status
	// still pending. Redelivery must converge without a second upload.
	f := newFixture(t)
	thumb := strings.Replace(f.job.KeyOriginal, "/original/", "/thumb/", 1)
	f.photos.photo.KeyThumb = &thumb

	res, err := f.processor.Process(context.Background(), f.job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Skipped || res.Reason != SkipAlreadyHasThumb {
		t.Fatalf("res = %+v, want skipped already_has_thumb", res)
	}
	if f.store.storeCalls != 0 {
		t.Fatal("no second upload may happen")
	}
}

func TestProcessInvalidOriginalKey(t *testing.T) {
	f := newFixture(t)
	badKey := "files/misc/abc.jpg"
	f.job.KeyOriginal = badKey
	f.photos.photo.KeyOriginal = badKey

	_, err := f.processor.Process(context.Background(), f.job)
	if !errors.Is(err, ErrInvalidOriginalKey) {
		t.Fatalf("err = %v, want ErrInvalidOriginalKey", err)
	}
	if f.photos.markedError != "invalid_original_key" {
		t.Fatalf("lastError = %q", f.photos.markedError)
	}
}

func TestProcessOriginalMissing(t *testing.T) {
	f := newFixture(t)
	f.store.fetchErr = &objstore.Error{
		Kind: objstore.KindNotFound,
		Op:   "fetch",
		Key:  f.job.KeyOriginal,
		Err:  errors.New("NoSuchKey"),
	}

	_, err := f.processor.Process(context.Background(), f.job)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(f.photos.markedError, "not_found") && !strings.Contains(f.photos.markedError, "NoSuchKey") {
		t.Fatalf("lastError = %q, want a not-found indicator", f.photos.markedError)
	}
	if f.photos.processedKey != "" {
		t.Fatal("no thumbnail key may be set")
	}
	if !Permanent(err) {
		t.Fatal("missing original must be permanent")
	}
}

func TestProcessAnimatedSource(t *testing.T) {
	f := newFixture(t)
	f.store.fetchData = animatedGIF(t)

	_, err := f.processor.Process(context.Background(), f.job)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.photos.markedError != "animated_gif_not_supported" {
		t.Fatalf("lastError = %q", f.photos.markedError)
	}
	if f.store.storeCalls != 0 {
		t.Fatal("no upload to the thumb path may occur")
	}
	if !Permanent(err) {
		t.Fatal("animated source must be permanent")
	}
}

func TestProcessUploadFailurePersisted(t *testing.T) {
	f := newFixture(t)
	f.store.storeErr = &objstore.Error{
		Kind: objstore.KindTransient,
		Op:   "store",
		Err:  errors.New("connection reset"),
	}

	_, err := f.processor.Process(context.Background(), f.job)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(f.photos.markedError, "putObject: ") {
		t.Fatalf("lastError = %q, want putObject prefix", f.photos.markedError)
	}
	if Permanent(err) {
		t.Fatal("a transient upload failure must stay retryable")
	}
}
