package evidence

import (
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"

	"libracheck/internal/storage"
)

// Options tune a Collector.
type Options struct {
	// CallTimeout bounds each upload and each tagging call.
	CallTimeout    time.Duration
	MaxConcurrency int
}

// Collector uploads images and gathers their tags.
type Collector struct {
	blobs    storage.BlobStore
	tagger   Tagger
	opts     Options
	logger   logr.Logger
	tracer   trace.Tracer
	failures metric.Int64Counter
}

// NewCollector creates a collector.
func NewCollector(blobs storage.BlobStore, tagger Tagger, opts Options, logger logr.Logger) *Collector {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	failures, _ := otel.Meter("libracheck/evidence").Int64Counter("evidence.image.failures",
		metric.WithDescription("Images whose upload or tag extraction failed"))
	return &Collector{
		blobs:    blobs,
		tagger:   tagger,
		opts:     opts,
		logger:   logger.WithName("evidence"),
		tracer:   otel.Tracer("libracheck/evidence"),
		failures: failures,
	}
}

type upload struct {
	object string
	data   []byte
}

type imageResult struct {
	object   string
	url      string
	tags     []string
	uploaded bool
}

// Collect stores each image under container and asks the tagger for its
// labels. Images are processed concurrently. A failing image is logged and
// skipped; an image whose upload succeeded but whose analysis failed still
// contributes its URL.
func (c *Collector) Collect(ctx context.Context, container string, images []Image) Snapshot {
	ctx, span := c.tracer.Start(ctx, "evidence.collect",
		trace.WithAttributes(
			attribute.String("container", container),
			attribute.Int("images", len(images)),
		),
	)
	defer span.End()

	snap := Snapshot{container: container}
	uploads := c.plan(images)
	if len(uploads) == 0 {
		return snap
	}

	p := pool.NewWithResults[imageResult]().WithMaxGoroutines(c.opts.MaxConcurrency)
	for _, u := range uploads {
		p.Go(func() imageResult {
			return c.process(ctx, container, u)
		})
	}

	var tagSets [][]string
	for _, r := range p.Wait() {
		if r.uploaded {
			snap.objects = append(snap.objects, r.object)
		}
		if r.url != "" {
			snap.Images = append(snap.Images, r.url)
		}
		tagSets = append(tagSets, r.tags)
	}
	snap.Images = Union(snap.Images)
	snap.Tags = Union(tagSets...)

	span.SetAttributes(
		attribute.Int("images.stored", len(snap.Images)),
		attribute.Int("tags.count", len(snap.Tags)),
	)
	return snap
}

// plan drops byte-identical images and gives every remaining image a
// distinct object name.
func (c *Collector) plan(images []Image) []upload {
	seenDigest := make(map[[32]byte]struct{}, len(images))
	usedNames := make(map[string]struct{}, len(images))
	var out []upload
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		digest := blake2b.Sum256(img.Data)
		if _, dup := seenDigest[digest]; dup {
			continue
		}
		seenDigest[digest] = struct{}{}

		name := storage.SanitizeObjectName(img.Filename)
		if _, taken := usedNames[name]; taken {
			ext := path.Ext(name)
			name = fmt.Sprintf("%s-%s%s", strings.TrimSuffix(name, ext), hex.EncodeToString(digest[:4]), ext)
		}
		usedNames[name] = struct{}{}
		out = append(out, upload{object: name, data: img.Data})
	}
	return out
}

func (c *Collector) process(ctx context.Context, container string, u upload) imageResult {
	res := imageResult{object: u.object}
	log := c.logger.WithValues("container", container, "object", u.object)

	exists, err := c.blobs.Exists(ctx, container, u.object)
	if err != nil {
		c.fail(ctx, log, err, "checking blob failed, skipping image")
		return res
	}
	if exists {
		// Containers are unique to one record and phase, so the object is
		// this snapshot's own image from an earlier attempt.
		log.Info("blob already exists, reusing it")
		res.url = c.blobs.URL(container, u.object)
	} else {
		putCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		url, err := c.blobs.Put(putCtx, container, u.object, u.data)
		cancel()
		if err != nil {
			c.fail(ctx, log, err, "uploading image failed, skipping image")
			return res
		}
		res.url = url
		res.uploaded = true
	}

	tagCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	tags, err := c.tagger.AnalyzeFromURL(tagCtx, res.url)
	cancel()
	if err != nil {
		c.fail(ctx, log, err, "tag extraction failed, skipping image tags")
		return res
	}
	res.tags = tags
	log.V(1).Info("image analyzed", "url", res.url, "tags", tags)
	return res
}

func (c *Collector) fail(ctx context.Context, log logr.Logger, err error, msg string) {
	log.Error(err, msg)
	c.failures.Add(ctx, 1)
}

// Discard deletes the objects uploaded for a snapshot. It is used when the
// operation that collected the snapshot could not be committed.
func (c *Collector) Discard(ctx context.Context, snap Snapshot) {
	for _, object := range snap.objects {
		if err := c.blobs.Delete(ctx, snap.container, object); err != nil {
			c.logger.Error(err, "failed to discard evidence", "container", snap.container, "object", object)
		}
	}
}
