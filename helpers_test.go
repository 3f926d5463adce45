package imagecache_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"iter"
	"testing"

	"github.com/djdv/go-imagecache"
	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/loop"
	"github.com/djdv/go-imagecache/memory"
	"github.com/djdv/go-imagecache/network"
)

type (
	// manualFetcher holds every fetch until the test settles it.
	manualFetcher struct {
		pending map[string]*pendingFetch
		started []string
	}
	pendingFetch struct {
		ctx      context.Context
		progress func(loaded, total int64)
		done     func([]byte, error)
	}

	// stubImage is an [imagecache.Image] without requests
	// whose load is driven by the test.
	// Methods the controller does not call are left unimplemented.
	stubImage struct {
		imagecache.Image
		events   event.Emitter[imagecache.ImageEventType, imagecache.ImageEvent]
		watchers event.Emitter[network.EventType, network.Event]
		url      string
		locked   bool
		cleared  bool
	}
	stubFactory struct {
		images map[string]*stubImage
	}

	harness struct {
		scheduler  *loop.Manual
		fetcher    *manualFetcher
		controller *imagecache.Controller
	}
)

func newManualFetcher() *manualFetcher {
	return &manualFetcher{pending: make(map[string]*pendingFetch)}
}

func (mf *manualFetcher) Fetch(ctx context.Context, url string,
	progress func(loaded, total int64),
	done func([]byte, error),
) {
	mf.started = append(mf.started, url)
	mf.pending[url] = &pendingFetch{ctx: ctx, progress: progress, done: done}
}

func (mf *manualFetcher) take(tb testing.TB, url string) *pendingFetch {
	tb.Helper()
	fetch, ok := mf.pending[url]
	if !ok {
		tb.Fatalf("no fetch pending for %q", url)
	}
	delete(mf.pending, url)
	return fetch
}

func (mf *manualFetcher) complete(tb testing.TB, url string, data []byte) {
	tb.Helper()
	fetch := mf.take(tb, url)
	fetch.progress(int64(len(data)), int64(len(data)))
	fetch.done(data, nil)
}

func (mf *manualFetcher) fail(tb testing.TB, url string, err error) {
	tb.Helper()
	mf.take(tb, url).done(nil, err)
}

func newStubFactory() *stubFactory {
	return &stubFactory{images: make(map[string]*stubImage)}
}

func (sf *stubFactory) New(props imagecache.ImageProps) imagecache.Image {
	img := &stubImage{url: props.URL}
	sf.images[props.URL] = img
	return img
}

func (si *stubImage) URL() string { return si.url }
func (si *stubImage) Load()       {}
func (si *stubImage) Abort() {
	si.watchers.Emit(network.Abort, network.Event{Type: network.Abort})
}

func (si *stubImage) Watch(watcher func(network.Event)) func() {
	token := si.watchers.On(network.LoaderEvents, watcher)
	return func() { si.watchers.Off(token) }
}

func (si *stubImage) On(mask imagecache.ImageEventType, handler func(imagecache.ImageEvent)) event.Token {
	return si.events.On(mask, handler)
}

func (si *stubImage) Off(token event.Token) bool { return si.events.Off(token) }
func (si *stubImage) IsLocked() bool             { return si.locked }

func (si *stubImage) Requests() iter.Seq[*imagecache.RenderRequest] {
	return func(func(*imagecache.RenderRequest) bool) {}
}

func (si *stubImage) BytesVideo(size imagecache.Size) int64 { return size.Bytes() }

func (si *stubImage) Clear() {
	si.cleared = true
	si.events.Reset()
}

// finish ends the load, charging bytes of RAM.
func (si *stubImage) finish(bytes int64) {
	si.watchers.Emit(network.LoadEnd, network.Event{Type: network.LoadEnd})
	si.charge(bytes)
}

// charge reports a load end without settling the loader.
func (si *stubImage) charge(bytes int64) {
	si.events.Emit(imagecache.ImageLoadEnd, imagecache.ImageEvent{
		Image: si,
		Type:  imagecache.ImageLoadEnd,
		Bytes: bytes,
	})
}

func newHarness(tb testing.TB, config imagecache.Config, options ...imagecache.Option) *harness {
	tb.Helper()
	var (
		scheduler = loop.NewManual()
		fetcher   = newManualFetcher()
	)
	options = append([]imagecache.Option{imagecache.WithFetcher(fetcher)}, options...)
	controller, err := imagecache.New(scheduler, config, options...)
	if err != nil {
		tb.Fatal(err)
	}
	return &harness{
		scheduler:  scheduler,
		fetcher:    fetcher,
		controller: controller,
	}
}

// byteConfig is a config measured in bytes with the given budgets.
func byteConfig(ram, video float64) imagecache.Config {
	config := imagecache.DefaultConfig()
	config.Units = memory.Bytes
	config.RAMSize = ram
	config.VideoSize = video
	return config
}

func (h *harness) bucket(tb testing.TB, name string, locked bool) *imagecache.Bucket {
	tb.Helper()
	bucket, err := h.controller.NewBucket(name, locked)
	if err != nil {
		tb.Fatal(err)
	}
	return bucket
}

func (h *harness) request(tb testing.TB, bucket *imagecache.Bucket, props imagecache.RequestProps) *imagecache.RenderRequest {
	tb.Helper()
	request, err := bucket.Request(props)
	if err != nil {
		tb.Fatal(err)
	}
	return request
}

// load completes the fetch for url with a PNG of the given
// dimensions and runs every callback that is due.
func (h *harness) load(tb testing.TB, url string, width, height int) []byte {
	tb.Helper()
	h.scheduler.Flush()
	data := pngBytes(tb, width, height)
	h.fetcher.complete(tb, url, data)
	h.scheduler.Flush()
	return data
}

func pngBytes(tb testing.TB, width, height int) []byte {
	tb.Helper()
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		tb.Fatal(err)
	}
	return buffer.Bytes()
}

func checkBytes(tb testing.TB, tracker *memory.Memory, want int64, errCtx string) {
	tb.Helper()
	if got := tracker.Bytes(); got != want {
		tb.Errorf(
			"%s: unexpected %s usage"+
				"\n\tgot: %d"+
				"\n\twant: %d",
			errCtx, tracker.Name(), got, want)
	}
}

func checkCleared(tb testing.TB, request *imagecache.RenderRequest, want bool, errCtx string) {
	tb.Helper()
	if got := request.Cleared(); got != want {
		tb.Errorf(
			"%s: unexpected cleared state for %v"+
				"\n\tgot: %t"+
				"\n\twant: %t",
			errCtx, request, got, want)
	}
}
