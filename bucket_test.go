package imagecache_test

import (
	"slices"
	"testing"
	"time"

	"github.com/djdv/go-imagecache"
	"github.com/djdv/go-imagecache/memory"
)

func TestBucket(t *testing.T) {
	t.Run("shared image", sharedImage)
	t.Run("rendered is monotone", renderedIsMonotone)
	t.Run("leaving member completes bucket", leavingMemberCompletes)
	t.Run("load progress", loadProgress)
	t.Run("clear", clearBucket)
	t.Run("cleared request is not rendered", clearedNotRendered)
	t.Run("units", bucketUnits)
}

func sharedImage(t *testing.T) {
	t.Parallel()
	var (
		h        = newHarness(t, byteConfig(1e6, 1e6))
		bucket   = h.bucket(t, "gallery", false)
		rendered int
		progress []float64
		small    = h.request(t, bucket, imagecache.RequestProps{
			URL:  "a.png",
			Size: imagecache.Size{Width: 2, Height: 2},
		})
		large = h.request(t, bucket, imagecache.RequestProps{
			URL:  "a.png",
			Size: imagecache.Size{Width: 3, Height: 3},
		})
	)
	bucket.On(imagecache.BucketRendered, func(imagecache.BucketEvent) { rendered++ })
	bucket.On(imagecache.BucketRenderProgress, func(e imagecache.BucketEvent) {
		progress = append(progress, e.Progress)
	})
	if small.Image() != large.Image() {
		t.Fatal("requests for one url hold different images")
	}
	if !slices.Equal(h.fetcher.started, []string{"a.png"}) {
		t.Fatalf("image fetched more than once: %v", h.fetcher.started)
	}
	data := h.load(t, "a.png", 4, 4)
	if rendered != 1 {
		t.Errorf("rendered sent %d times", rendered)
	}
	if want := []float64{0.5, 1}; !slices.Equal(progress, want) {
		t.Errorf(
			"unexpected render progress"+
				"\n\tgot: %v"+
				"\n\twant: %v",
			progress, want)
	}
	if !bucket.Loaded() || bucket.LoadProgress() != 1 {
		t.Error("bucket not loaded")
	}
	want := imagecache.RAMBytes{
		Compressed:   int64(len(data)),
		Uncompressed: 64,
		Total:        int64(len(data)) + 64,
	}
	if got := bucket.RAMBytes(); got != want {
		t.Errorf(
			"shared image counted more than once"+
				"\n\tgot: %+v"+
				"\n\twant: %+v",
			got, want)
	}
	if got := bucket.VideoBytes(); got.Used != 16+36 || got.Requested != got.Used {
		t.Errorf("unexpected video bytes: %+v", got)
	}
	if !bucket.HasURL("a.png") || bucket.HasURL("b.png") {
		t.Error("HasURL does not reflect members")
	}
}

func renderedIsMonotone(t *testing.T) {
	t.Parallel()
	var (
		h      = newHarness(t, byteConfig(1e6, 1e6))
		bucket = h.bucket(t, "gallery", false)
		states []bool
	)
	bucket.On(imagecache.BucketRequestRendered|imagecache.BucketLoading,
		func(e imagecache.BucketEvent) { states = append(states, e.Bucket.Rendered()) })
	h.request(t, bucket, imagecache.RequestProps{URL: "a.png", Size: imagecache.Size{Width: 1, Height: 1}})
	h.load(t, "a.png", 1, 1)
	if !bucket.Rendered() {
		t.Fatal("bucket not rendered")
	}
	// An unrendered member resets the aggregate.
	h.request(t, bucket, imagecache.RequestProps{URL: "b.png", Size: imagecache.Size{Width: 1, Height: 1}})
	if bucket.Rendered() {
		t.Error("bucket rendered with an unrendered member")
	}
	h.load(t, "b.png", 1, 1)
	if want := []bool{false, true, false, true}; !slices.Equal(states, want) {
		t.Errorf(
			"unexpected rendered states"+
				"\n\tgot: %v"+
				"\n\twant: %v",
			states, want)
	}
}

func leavingMemberCompletes(t *testing.T) {
	t.Parallel()
	var (
		h         = newHarness(t, byteConfig(1e6, 1e6))
		bucket    = h.bucket(t, "gallery", false)
		pixel     = imagecache.Size{Width: 1, Height: 1}
		events    []imagecache.BucketEventType
		finished  = h.request(t, bucket, imagecache.RequestProps{URL: "a.png", Size: pixel})
		straggler = h.request(t, bucket, imagecache.RequestProps{URL: "b.png", Size: pixel})
	)
	h.load(t, "a.png", 1, 1)
	if !finished.Rendered() {
		t.Fatal("loaded member not rendered")
	}
	if bucket.Rendered() || bucket.Loaded() {
		t.Fatal("bucket complete with a pending member")
	}
	bucket.On(imagecache.BucketLoadEnd|imagecache.BucketRendered,
		func(e imagecache.BucketEvent) { events = append(events, e.Type) })
	straggler.Clear(true)
	if bucket.Len() != 1 || !bucket.Rendered() || !bucket.Loaded() {
		t.Errorf("bucket state not re-derived: members=%d rendered=%t loaded=%t",
			bucket.Len(), bucket.Rendered(), bucket.Loaded())
	}
	want := []imagecache.BucketEventType{imagecache.BucketLoadEnd, imagecache.BucketRendered}
	if !slices.Equal(events, want) {
		t.Errorf(
			"unexpected completion events"+
				"\n\tgot: %v"+
				"\n\twant: %v",
			events, want)
	}
}

func loadProgress(t *testing.T) {
	t.Parallel()
	var (
		h        = newHarness(t, byteConfig(1e6, 1e6))
		bucket   = h.bucket(t, "gallery", false)
		progress []float64
	)
	for _, url := range []string{"a.png", "b.png"} {
		h.request(t, bucket, imagecache.RequestProps{URL: url})
	}
	bucket.On(imagecache.BucketProgress, func(e imagecache.BucketEvent) {
		progress = append(progress, e.Progress)
	})
	h.scheduler.Flush()
	h.fetcher.pending["a.png"].progress(50, 100)
	h.fetcher.pending["b.png"].progress(100, 100)
	if want := []float64{0.25, 0.75}; !slices.Equal(progress, want) {
		t.Errorf(
			"unexpected load progress"+
				"\n\tgot: %v"+
				"\n\twant: %v",
			progress, want)
	}
	if !bucket.Loading() || bucket.Loaded() {
		t.Error("bucket not loading")
	}
}

func clearBucket(t *testing.T) {
	t.Parallel()
	var (
		h       = newHarness(t, byteConfig(1e6, 1e6))
		bucket  = h.bucket(t, "gallery", true)
		visible = h.request(t, bucket, imagecache.RequestProps{
			URL:     "a.png",
			Size:    imagecache.Size{Width: 2, Height: 2},
			Visible: true,
		})
		pending = h.request(t, bucket, imagecache.RequestProps{URL: "b.png"})
		cleared int
		later   int
	)
	h.load(t, "a.png", 4, 4)
	bucket.On(imagecache.BucketCleared, func(imagecache.BucketEvent) { cleared++ })
	bucket.On(imagecache.BucketAllEvents&^imagecache.BucketCleared,
		func(imagecache.BucketEvent) { later++ })
	bucket.Clear()
	checkCleared(t, visible, true, "locked members are forced")
	checkCleared(t, pending, true, "pending members are forced")
	if cleared != 1 || bucket.Len() != 0 {
		t.Errorf("unexpected bucket state after clear: cleared=%d members=%d",
			cleared, bucket.Len())
	}
	checkBytes(t, h.controller.Video(), 0, "after bucket clear")
	later = 0
	if h.controller.RequestCount() != 0 {
		t.Error("images still reference cleared requests")
	}
	// Late image events reach no one.
	h.load(t, "b.png", 1, 1)
	if later != 0 {
		t.Errorf("cleared bucket received %d events", later)
	}
	// Images stay cached until evicted; RAM follows them.
	if h.controller.Len() != 2 {
		t.Errorf("bucket clear evicted images: %d cached", h.controller.Len())
	}
}

func clearedNotRendered(t *testing.T) {
	t.Parallel()
	config := byteConfig(1e6, 1e6)
	config.HardwareRank = 0
	var (
		h       = newHarness(t, config)
		bucket  = h.bucket(t, "gallery", false)
		renders []string
		props   = func(url string) imagecache.RequestProps {
			return imagecache.RequestProps{URL: url, Size: imagecache.Size{Width: 1, Height: 1}}
		}
		busy    = h.request(t, bucket, props("busy.png"))
		waiting = h.request(t, bucket, props("waiting.png"))
	)
	for _, request := range []*imagecache.RenderRequest{busy, waiting} {
		request.On(imagecache.RequestRendering, func(e imagecache.RequestEvent) {
			renders = append(renders, e.Request.Image().URL())
		})
	}
	h.load(t, "busy.png", 25, 20)
	h.load(t, "waiting.png", 25, 20)
	if queued := h.controller.FrameQueue().Len(); queued != 1 {
		t.Fatalf("expected one pending render, got %d", queued)
	}
	waiting.Clear(true)
	if queued := h.controller.FrameQueue().Len(); queued != 0 {
		t.Errorf("cleared request left in render queue")
	}
	h.scheduler.Advance(time.Second)
	if want := []string{"busy.png"}; !slices.Equal(renders, want) {
		t.Errorf(
			"unexpected renders"+
				"\n\tgot: %v"+
				"\n\twant: %v",
			renders, want)
	}
}

func bucketUnits(t *testing.T) {
	t.Parallel()
	config := byteConfig(1e6, 1e6)
	config.Units = memory.Kilobytes
	config.RAMSize, config.VideoSize = 1e3, 1e3
	var (
		h      = newHarness(t, config)
		bucket = h.bucket(t, "gallery", false)
	)
	h.request(t, bucket, imagecache.RequestProps{
		URL:  "a.png",
		Size: imagecache.Size{Width: 25, Height: 10},
	})
	h.load(t, "a.png", 1, 1)
	video := bucket.VideoUnits()
	if video.Units != memory.Kilobytes || video.Used != 1 || video.Requested != 1 {
		t.Errorf("unexpected video units: %+v", video)
	}
	ram := bucket.RAMUnits()
	if ram.Units != memory.Kilobytes || ram.Total != ram.Compressed+ram.Uncompressed {
		t.Errorf("unexpected ram units: %+v", ram)
	}
}
