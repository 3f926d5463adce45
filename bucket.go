package imagecache

import (
	"fmt"
	"iter"

	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/internal/ordered"
	"github.com/djdv/go-imagecache/memory"
	"github.com/sirupsen/logrus"
)

type (
	// Bucket is a named group of [RenderRequest]s sharing a lock flag.
	// Constructed by [Controller.NewBucket].
	Bucket struct {
		controller   *Controller
		log          logrus.FieldLogger
		requests     *ordered.Map[*RenderRequest, struct{}]
		events       event.Emitter[BucketEventType, BucketEvent]
		name         string
		loadProgress float64
		locked       bool
		rendered     bool
		loading      bool
		loaded       bool
		cleared      bool
	}
	// BucketEventType enumerates [Bucket] notifications.
	BucketEventType uint32
	// BucketEvent describes a change to a [Bucket].
	BucketEvent struct {
		Bucket     *Bucket
		Request    *RenderRequest
		StatusText string
		Type       BucketEventType
		Progress   float64
		Status     int
		Requests   int
		Images     int
	}
	// VideoBytes is the device memory of a bucket's requests.
	VideoBytes struct {
		// Requested counts every request whose size is known.
		Requested int64 `json:"requested"`
		// Used counts rendered requests only.
		Used int64 `json:"used"`
	}
	// RAMBytes is the host memory of a bucket's distinct images.
	RAMBytes struct {
		Compressed   int64 `json:"compressed"`
		Uncompressed int64 `json:"uncompressed"`
		Total        int64 `json:"total"`
	}
	// VideoUnits is [VideoBytes] in the controller's units.
	VideoUnits struct {
		Units     memory.Units `json:"units"`
		Requested float64      `json:"requested"`
		Used      float64      `json:"used"`
	}
	// RAMUnits is [RAMBytes] in the controller's units.
	RAMUnits struct {
		Units        memory.Units `json:"units"`
		Compressed   float64      `json:"compressed"`
		Uncompressed float64      `json:"uncompressed"`
		Total        float64      `json:"total"`
	}
)

const (
	// BucketUpdate carries the member counts after a request joins or leaves.
	BucketUpdate BucketEventType = 1 << iota
	// BucketLoading is sent when a member's image starts loading.
	BucketLoading
	// BucketProgress carries the mean progress of the distinct images.
	BucketProgress
	// BucketError forwards a member's load failure.
	BucketError
	// BucketRequestLoadEnd is sent when a member enters the render queue.
	BucketRequestLoadEnd
	// BucketLoadEnd is sent when every member's image is loaded.
	BucketLoadEnd
	// BucketRequestRendered is sent when a member is rendered.
	BucketRequestRendered
	// BucketRenderProgress carries the fraction of rendered members.
	BucketRenderProgress
	// BucketRendered is sent when the bucket becomes fully rendered.
	BucketRendered
	// BucketCleared is sent by [Bucket.Clear].
	BucketCleared

	BucketAllEvents = BucketUpdate | BucketLoading | BucketProgress |
		BucketError | BucketRequestLoadEnd | BucketLoadEnd |
		BucketRequestRendered | BucketRenderProgress |
		BucketRendered | BucketCleared
)

func newBucket(controller *Controller, name string, locked bool) *Bucket {
	return &Bucket{
		controller: controller,
		log:        controller.log.WithField("bucket", name),
		requests:   ordered.New[*RenderRequest, struct{}](),
		name:       name,
		locked:     locked,
	}
}

// Request creates a [RenderRequest] for props in the bucket.
func (b *Bucket) Request(props RequestProps) (*RenderRequest, error) {
	if b.cleared {
		return nil, bucketClearedError(b.name)
	}
	if props.URL == "" || !props.Size.Valid() {
		return nil, requestError(props)
	}
	return newRenderRequest(b, props), nil
}

// On subscribes handler to the events in mask.
func (b *Bucket) On(mask BucketEventType, handler func(BucketEvent)) event.Token {
	return b.events.On(mask, handler)
}

// Off removes a subscription made with [Bucket.On].
func (b *Bucket) Off(token event.Token) bool { return b.events.Off(token) }

// Name returns the bucket's name.
func (b *Bucket) Name() string { return b.name }

// Locked reports whether every member is locked against eviction.
func (b *Bucket) Locked() bool { return b.locked }

// SetLocked changes the lock flag.
func (b *Bucket) SetLocked(locked bool) { b.locked = locked }

// Rendered reports whether every member is rendered.
func (b *Bucket) Rendered() bool { return b.rendered }

// Loading reports whether a member's image is loading.
func (b *Bucket) Loading() bool { return b.loading }

// Loaded reports whether every member's image is loaded.
func (b *Bucket) Loaded() bool { return b.loaded }

// LoadProgress is the mean progress of the distinct member images.
func (b *Bucket) LoadProgress() float64 { return b.loadProgress }

// Len returns the member count.
func (b *Bucket) Len() int { return b.requests.Len() }

// Requests yields the members in registration order.
func (b *Bucket) Requests() iter.Seq[*RenderRequest] { return b.requests.Keys() }

// Images yields the distinct member images.
func (b *Bucket) Images() iter.Seq[Image] {
	return func(yield func(Image) bool) {
		seen := make(map[Image]struct{}, b.requests.Len())
		for request := range b.requests.Keys() {
			if _, ok := seen[request.image]; ok {
				continue
			}
			seen[request.image] = struct{}{}
			if !yield(request.image) {
				return
			}
		}
	}
}

// HasURL reports whether a member renders url.
func (b *Bucket) HasURL(url string) bool {
	for request := range b.requests.Keys() {
		if request.image.URL() == url {
			return true
		}
	}
	return false
}

// VideoBytes sums the video bytes of the members.
func (b *Bucket) VideoBytes() VideoBytes {
	var bytes VideoBytes
	for request := range b.requests.Keys() {
		bytes.Requested += request.bytesVideo
		if request.rendered {
			bytes.Used += request.bytesVideo
		}
	}
	return bytes
}

// RAMBytes sums the RAM of the distinct member images.
func (b *Bucket) RAMBytes() RAMBytes {
	var bytes RAMBytes
	for image := range b.Images() {
		bytes.Compressed += image.Bytes()
		bytes.Uncompressed += image.BytesUncompressed()
	}
	bytes.Total = bytes.Compressed + bytes.Uncompressed
	return bytes
}

// VideoUnits is [Bucket.VideoBytes] in the controller's units.
func (b *Bucket) VideoUnits() VideoUnits {
	var (
		units = b.controller.config.Units
		bytes = b.VideoBytes()
	)
	return VideoUnits{
		Units:     units,
		Requested: units.ToUnits(bytes.Requested),
		Used:      units.ToUnits(bytes.Used),
	}
}

// RAMUnits is [Bucket.RAMBytes] in the controller's units.
func (b *Bucket) RAMUnits() RAMUnits {
	var (
		units = b.controller.config.Units
		bytes = b.RAMBytes()
	)
	return RAMUnits{
		Units:        units,
		Compressed:   units.ToUnits(bytes.Compressed),
		Uncompressed: units.ToUnits(bytes.Uncompressed),
		Total:        units.ToUnits(bytes.Total),
	}
}

// Clear force-clears every member and removes every subscription.
// The bucket cannot create requests afterwards.
func (b *Bucket) Clear() {
	if b.cleared {
		return
	}
	b.cleared = true
	for request := range b.requests.Keys() {
		request.Clear(true)
	}
	b.requests.Clear()
	b.emit(BucketEvent{Type: BucketCleared})
	b.events.Reset()
	b.controller.forgetBucket(b)
	b.log.Debug("cleared")
}

func (b *Bucket) registerRequest(request *RenderRequest) {
	if !b.requests.Set(request, struct{}{}) {
		return
	}
	if !request.rendered {
		b.rendered = false
	}
	request.On(RequestLoadStart, b.onRequestLoadStart)
	request.On(RequestProgress, b.onRequestProgress)
	request.On(RequestError, b.onRequestError)
	request.On(RequestLoadEnd, b.onRequestLoadEnd)
	request.On(RequestRendered, b.onRequestRendered)
	request.On(RequestCleared, b.onRequestCleared)
	b.emitUpdate()
}

func (b *Bucket) onRequestCleared(e RequestEvent) {
	// The request drops its own listeners after this event.
	if !b.requests.Delete(e.Request) {
		return
	}
	b.emitUpdate()
	if b.cleared || b.requests.Len() == 0 {
		return
	}
	// The leaving member may have been the last one pending.
	var (
		wasLoaded   = b.loaded
		wasRendered = b.rendered
	)
	b.loaded = b.allLoaded()
	b.rendered = b.renderedCount() == b.requests.Len()
	if b.loaded && !wasLoaded {
		b.loading = false
		b.loadProgress = 1
		b.emit(BucketEvent{Type: BucketLoadEnd, Progress: 1})
	}
	if b.rendered && !wasRendered {
		b.log.Debug("rendered")
		b.emit(BucketEvent{Type: BucketRendered, Progress: 1})
	}
}

func (b *Bucket) allLoaded() bool {
	for image := range b.Images() {
		if !image.Loaded() {
			return false
		}
	}
	return true
}

func (b *Bucket) renderedCount() int {
	var rendered int
	for request := range b.requests.Keys() {
		if request.rendered {
			rendered++
		}
	}
	return rendered
}

func (b *Bucket) onRequestLoadStart(e RequestEvent) {
	b.loading = true
	b.loaded = false
	b.rendered = false
	b.emit(BucketEvent{Type: BucketLoading, Request: e.Request})
}

func (b *Bucket) onRequestProgress(RequestEvent) {
	b.loading = true
	b.loaded = false
	var (
		progress float64
		images   int
	)
	for image := range b.Images() {
		progress += image.Progress()
		images++
	}
	if images > 0 {
		b.loadProgress = progress / float64(images)
	}
	b.emit(BucketEvent{Type: BucketProgress, Progress: b.loadProgress})
}

func (b *Bucket) onRequestError(e RequestEvent) {
	b.log.WithFields(logrus.Fields{
		"request": e.Request,
		"status":  e.Status,
	}).Warn(e.StatusText)
	b.emit(BucketEvent{
		Type:       BucketError,
		Request:    e.Request,
		Status:     e.Status,
		StatusText: e.StatusText,
	})
}

func (b *Bucket) onRequestLoadEnd(e RequestEvent) {
	b.loaded = b.allLoaded()
	b.loading = !b.loaded
	b.emit(BucketEvent{Type: BucketRequestLoadEnd, Request: e.Request})
	if b.loaded {
		b.loadProgress = 1
		b.log.Info("loaded")
		b.emit(BucketEvent{Type: BucketLoadEnd, Progress: 1})
	}
}

func (b *Bucket) onRequestRendered(e RequestEvent) {
	var (
		wasRendered = b.rendered
		rendered    = b.renderedCount()
	)
	b.rendered = rendered == b.requests.Len()
	b.emit(BucketEvent{Type: BucketRequestRendered, Request: e.Request})
	b.emit(BucketEvent{
		Type:     BucketRenderProgress,
		Progress: float64(rendered) / float64(b.requests.Len()),
	})
	if b.rendered && !wasRendered {
		b.log.Debug("rendered")
		b.emit(BucketEvent{Type: BucketRendered, Progress: 1})
	}
}

func (b *Bucket) emitUpdate() {
	var images int
	for range b.Images() {
		images++
	}
	b.emit(BucketEvent{
		Type:     BucketUpdate,
		Requests: b.requests.Len(),
		Images:   images,
	})
}

func (b *Bucket) emit(e BucketEvent) {
	e.Bucket = b
	b.events.Emit(e.Type, e)
}

func (b *Bucket) String() string {
	return fmt.Sprintf("bucket %q (%d requests)", b.name, b.requests.Len())
}
