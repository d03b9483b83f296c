package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"

	"github.com/corona10/goimagehash"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/your-org/lorapix/internal/models"
	"github.com/your-org/lorapix/internal/observability"
)

// Normalizer turns a person's uploaded photos into a deduplicated,
// uniformly encoded training dataset. A run walks the photos strictly
// in input order, so identical inputs always produce identical
// keep/duplicate decisions.
type Normalizer struct {
	store   Store
	blobs   ObjectStore
	maxDim  int
	quality int
}

func NewNormalizer(store Store, blobs ObjectStore, maxDim, quality int) *Normalizer {
	return &Normalizer{
		store:   store,
		blobs:   blobs,
		maxDim:  maxDim,
		quality: quality,
	}
}

// RunResult partitions a run's photos by outcome. Every photo handed to
// Run lands in exactly one bucket.
type RunResult struct {
	Accepted   int
	Rejected   int
	Duplicates int
}

func (r RunResult) Total() int {
	return r.Accepted + r.Rejected + r.Duplicates
}

// Run processes photos sequentially for one person. Per-photo faults
// (undecodable bytes, a failed fetch or upload) reject that photo and
// continue; only a failure to record an outcome aborts the run, since
// continuing would desynchronize counts from photo states.
func (n *Normalizer) Run(ctx context.Context, personID uuid.UUID, photos []models.PhotoAsset) (RunResult, error) {
	var res RunResult
	seen := make(map[string]uuid.UUID, len(photos))

	for _, photo := range photos {
		outcome, phash, err := n.processOne(ctx, personID, photo, seen)
		if err != nil {
			slog.Warn("photo rejected",
				"photo_id", photo.ID,
				"person_id", personID,
				"error", err,
			)
			outcome = models.PhotoStatusRejected
		}

		switch outcome {
		case models.PhotoStatusProcessed:
			res.Accepted++
		case models.PhotoStatusDuplicate:
			res.Duplicates++
		default:
			res.Rejected++
		}
		observability.PhotosProcessed.WithLabelValues(string(outcome)).Inc()

		isDup := outcome == models.PhotoStatusDuplicate
		if err := n.store.SetPhotoOutcome(ctx, photo.ID, outcome, phash, isDup); err != nil {
			return res, fmt.Errorf("record outcome for photo %s: %w", photo.ID, err)
		}
	}

	return res, nil
}

// processOne classifies a single photo. The seen map is scoped to the
// run: the first photo with a given fingerprint wins, later ones become
// duplicates.
func (n *Normalizer) processOne(ctx context.Context, personID uuid.UUID, photo models.PhotoAsset, seen map[string]uuid.UUID) (models.PhotoStatus, string, error) {
	data, err := n.blobs.GetObject(ctx, photo.StorageKey)
	if err != nil {
		return models.PhotoStatusRejected, "", fmt.Errorf("fetch: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.PhotoStatusRejected, "", fmt.Errorf("decode: %w", err)
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return models.PhotoStatusRejected, "", fmt.Errorf("fingerprint: %w", err)
	}
	phash := hash.ToString()

	if _, dup := seen[phash]; dup {
		return models.PhotoStatusDuplicate, phash, nil
	}

	encoded, err := n.normalize(img)
	if err != nil {
		return models.PhotoStatusRejected, phash, fmt.Errorf("normalize: %w", err)
	}

	key := ProcessedKey(personID, photo.ID)
	if err := n.blobs.PutObject(ctx, key, encoded, "image/jpeg"); err != nil {
		return models.PhotoStatusRejected, phash, fmt.Errorf("store processed copy: %w", err)
	}

	seen[phash] = photo.ID
	return models.PhotoStatusProcessed, phash, nil
}

// normalize bounds the image to maxDim on its longest side and encodes
// it as baseline JPEG, which drops any alpha channel a webp/png source
// carried.
func (n *Normalizer) normalize(img image.Image) ([]byte, error) {
	resized := resizeMax(img, n.maxDim)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// resizeMax scales img down so neither side exceeds maxDim, preserving
// aspect ratio. Images already within bounds are redrawn but not scaled.
func resizeMax(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if w > maxDim || h > maxDim {
		if w >= h {
			h = h * maxDim / w
			w = maxDim
		} else {
			w = w * maxDim / h
			h = maxDim
		}
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Thumbnail produces a PNG preview bounded to maxDim on its longest side.
func Thumbnail(data []byte, maxDim int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, resizeMax(img, maxDim)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
