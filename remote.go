package imagecache

import (
	"context"
	"errors"
	"iter"

	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/fetch"
	"github.com/djdv/go-imagecache/imagetype"
	"github.com/djdv/go-imagecache/internal/logging"
	"github.com/djdv/go-imagecache/internal/ordered"
	"github.com/djdv/go-imagecache/loop"
	"github.com/djdv/go-imagecache/network"
	"github.com/sirupsen/logrus"
)

type (
	// remoteImage is the default [Image]; its bytes come from a [fetch.Fetcher].
	remoteImage struct {
		scheduler loop.Scheduler
		fetcher   fetch.Fetcher
		log       logrus.FieldLogger
		cancel    context.CancelFunc
		deadline  loop.Timer
		requests  *ordered.Map[*RenderRequest, *membership]
		sizes     map[Size]*sizeState
		events    event.Emitter[ImageEventType, ImageEvent]
		watchers  event.Emitter[network.EventType, network.Event]
		url       string
		format    imagetype.Type
		props     ImageProps
		size      Size
		bytes     int64
		progress  float64
		// generation invalidates callbacks of settled loads.
		generation uint64
		loading    bool
		loaded     bool
	}
	membership struct {
		tokens   [2]event.Token
		charged  int64
		rendered bool
	}
	// sizeState tracks the renders that exist at one size.
	sizeState struct {
		owner    *RenderRequest
		rendered int
	}
)

// NewRemoteImage is the default [ImageFactory].
func NewRemoteImage(props ImageProps) Image {
	return &remoteImage{
		scheduler: props.Scheduler,
		fetcher:   props.Fetcher,
		log: logging.Component(props.Log, "image").
			WithField("url", props.URL),
		requests: ordered.New[*RenderRequest, *membership](),
		sizes:    make(map[Size]*sizeState),
		url:      props.URL,
		props:    props,
	}
}

func (img *remoteImage) URL() string { return img.url }

func (img *remoteImage) Watch(watcher func(network.Event)) (unwatch func()) {
	token := img.watchers.On(network.LoaderEvents, watcher)
	return func() { img.watchers.Off(token) }
}

func (img *remoteImage) On(mask ImageEventType, handler func(ImageEvent)) event.Token {
	return img.events.On(mask, handler)
}

func (img *remoteImage) Off(token event.Token) bool { return img.events.Off(token) }

func (img *remoteImage) Loaded() bool             { return img.loaded }
func (img *remoteImage) Progress() float64        { return img.progress }
func (img *remoteImage) Size() Size               { return img.size }
func (img *remoteImage) Bytes() int64             { return img.bytes }
func (img *remoteImage) BytesUncompressed() int64 { return img.size.Bytes() }
func (img *remoteImage) BytesRAM() int64          { return img.bytes + img.BytesUncompressed() }
func (*remoteImage) BytesVideo(size Size) int64   { return size.Bytes() }

func (img *remoteImage) IsDecoded(size Size) bool {
	state, ok := img.sizes[size]
	return img.loaded && ok && state.rendered > 0
}

func (img *remoteImage) IsSizeLocked(request *RenderRequest) bool {
	if img.props.GPUDataFull {
		return false
	}
	state, ok := img.sizes[request.size]
	if !ok || state.owner != request {
		return false
	}
	for other := range img.requests.Keys() {
		if other != request && other.size == request.size {
			return true
		}
	}
	return false
}

func (img *remoteImage) IsLocked() bool {
	for request := range img.requests.Keys() {
		if request.IsLocked() {
			return true
		}
	}
	return false
}

func (img *remoteImage) Requests() iter.Seq[*RenderRequest] { return img.requests.Keys() }

// Load starts a fetch unless one is running.
// An image that is already loaded settles immediately.
func (img *remoteImage) Load() {
	if img.loading {
		return
	}
	if img.loaded {
		img.scheduler.Post(func() {
			img.watchers.Emit(network.LoadEnd, network.Event{
				Type:   network.LoadEnd,
				Loaded: img.bytes,
				Total:  img.bytes,
			})
		})
		return
	}
	img.generation++
	var (
		generation  = img.generation
		current     = func() bool { return img.loading && img.generation == generation }
		ctx, cancel = context.WithCancel(context.Background())
	)
	img.loading = true
	img.cancel = cancel
	if timeout := img.props.LoadTimeout; timeout > 0 {
		img.deadline = img.scheduler.AfterFunc(timeout, func() {
			if current() {
				img.onTimeout()
			}
		})
	}
	img.scheduler.Post(func() {
		if current() {
			img.log.Debug("load start")
			img.watchers.Emit(network.LoadStart, network.Event{Type: network.LoadStart})
			img.emit(ImageEvent{Type: ImageLoadStart})
		}
	})
	img.fetcher.Fetch(ctx, img.url,
		func(loaded, total int64) {
			if current() {
				img.onProgress(loaded, total)
			}
		},
		func(data []byte, err error) {
			if current() {
				img.onDone(data, err)
			}
		})
}

// Abort cancels a running fetch. The terminal
// [network.Abort] event follows on the next turn.
func (img *remoteImage) Abort() {
	if !img.loading {
		return
	}
	img.settle()
	img.log.Debug("aborted")
	img.scheduler.Post(func() {
		img.watchers.Emit(network.Abort, network.Event{Type: network.Abort})
	})
}

func (img *remoteImage) settle() {
	img.loading = false
	img.generation++
	if img.cancel != nil {
		img.cancel()
		img.cancel = nil
	}
	if img.deadline != nil {
		img.deadline.Stop()
		img.deadline = nil
	}
}

func (img *remoteImage) onProgress(loaded, total int64) {
	if total > 0 {
		img.progress = min(float64(loaded)/float64(total), 1)
	}
	img.watchers.Emit(network.Progress, network.Event{
		Type:   network.Progress,
		Loaded: loaded,
		Total:  total,
	})
	img.emit(ImageEvent{Type: ImageProgress, Progress: img.progress})
}

func (img *remoteImage) onTimeout() {
	img.settle()
	img.log.WithField("timeout", img.props.LoadTimeout).Warn("load timed out")
	img.watchers.Emit(network.Timeout, network.Event{
		Type: network.Timeout,
		Err:  context.DeadlineExceeded,
	})
	img.emit(ImageEvent{
		Type:       ImageError,
		Err:        context.DeadlineExceeded,
		StatusText: network.Timeout.String(),
	})
}

func (img *remoteImage) onDone(data []byte, err error) {
	img.settle()
	if err != nil {
		img.onError(err)
		return
	}
	format, dimensions, err := imagetype.Dimensions(data)
	if err != nil {
		img.onError(err)
		return
	}
	img.format = format
	img.onLoaded(data, Size{Width: dimensions.X, Height: dimensions.Y})
}

func (img *remoteImage) onLoaded(data []byte, size Size) {
	img.bytes = int64(len(data))
	img.size = size
	img.loaded = true
	img.progress = 1
	img.log.WithFields(logrus.Fields{
		"bytes":  img.bytes,
		"size":   size,
		"format": img.format,
	}).Debug("loaded")
	img.watchers.Emit(network.LoadEnd, network.Event{
		Type:   network.LoadEnd,
		Loaded: img.bytes,
		Total:  img.bytes,
	})
	img.emit(ImageEvent{Type: ImageLoadEnd, Bytes: img.bytes})
	img.emit(ImageEvent{Type: ImageSize, Size: size})
}

func (img *remoteImage) onError(err error) {
	var (
		status, statusText, _ = fetch.AsStatus(err)
		loaderEvent           = network.Error
	)
	if errors.Is(err, context.DeadlineExceeded) {
		loaderEvent = network.Timeout
	}
	if statusText == "" {
		statusText = err.Error()
	}
	img.log.WithError(err).
		WithField("status", status).
		Warn("load failed")
	img.watchers.Emit(loaderEvent, network.Event{
		Type:       loaderEvent,
		Err:        err,
		Status:     status,
		StatusText: statusText,
	})
	img.emit(ImageEvent{
		Type:       ImageError,
		Err:        err,
		Status:     status,
		StatusText: statusText,
	})
}

func (img *remoteImage) RegisterRequest(request *RenderRequest) {
	if img.requests.Has(request) {
		return
	}
	member := new(membership)
	member.tokens = [...]event.Token{
		request.On(RequestRendered, func(RequestEvent) {
			img.onRequestRendered(request, member)
		}),
		request.On(RequestCleared, func(RequestEvent) {
			img.onRequestCleared(request, member)
		}),
	}
	img.requests.Set(request, member)
	img.emit(ImageEvent{Type: ImageRequestAdded, Request: request})
}

func (img *remoteImage) onRequestRendered(request *RenderRequest, member *membership) {
	if member.rendered {
		return
	}
	member.rendered = true
	state := img.sizes[request.size]
	if state == nil {
		state = new(sizeState)
		img.sizes[request.size] = state
	}
	state.rendered++
	if img.props.GPUDataFull || state.owner == nil {
		state.owner = request
		member.charged = request.BytesVideo()
	}
	img.emit(ImageEvent{
		Type:    ImageRequestRendered,
		Request: request,
		Bytes:   member.charged,
	})
}

func (img *remoteImage) onRequestCleared(request *RenderRequest, member *membership) {
	img.requests.Delete(request)
	released := member.charged
	if state, ok := img.sizes[request.size]; ok && member.rendered {
		state.rendered--
		if state.owner == request {
			state.owner = nil
			if heir, heirMember := img.heir(request.size); heir != nil && !img.props.GPUDataFull {
				// The render stays resident for the heir.
				state.owner = heir
				heirMember.charged, released = released, 0
			}
		}
		if state.rendered == 0 {
			delete(img.sizes, request.size)
		}
	}
	member.charged = 0
	member.rendered = false
	img.emit(ImageEvent{
		Type:    ImageRequestRemoved,
		Request: request,
		Bytes:   released,
	})
}

// heir returns a rendered request that can take over
// the video memory of the owner of size.
func (img *remoteImage) heir(size Size) (*RenderRequest, *membership) {
	for request, member := range img.requests.All() {
		if request.size == size && member.rendered {
			return request, member
		}
	}
	return nil, nil
}

func (img *remoteImage) Clear() {
	for request := range img.requests.Keys() {
		request.Clear(true)
	}
	img.Abort()
	img.emit(ImageEvent{Type: ImageCleared})
	img.events.Reset()
	img.log.Debug("cleared")
}

func (img *remoteImage) emit(e ImageEvent) {
	e.Image = img
	img.events.Emit(e.Type, e)
}
