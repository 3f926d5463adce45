package imagecache

import (
	"fmt"
	"time"

	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/framequeue"
	"github.com/djdv/go-imagecache/loop"
	"github.com/sirupsen/logrus"
)

type (
	// RenderRequest is one (image, target size) render obligation.
	// Constructed by [Bucket.Request].
	RenderRequest struct {
		log         logrus.FieldLogger
		bucket      *Bucket
		image       Image
		timer       loop.Timer
		events      event.Emitter[RequestEventType, RequestEvent]
		imageTokens []event.Token
		size        Size
		bytesVideo  int64
		rendered    bool
		requested   bool
		cleared     bool
		visible     bool
	}
	// RequestProps describes a [RenderRequest].
	RequestProps struct {
		URL     string `json:"url"`
		Size    Size   `json:"size"`
		Visible bool   `json:"visible"`
	}
	// RequestEventType enumerates [RenderRequest] notifications.
	RequestEventType uint32
	// RequestEvent describes a [RenderRequest] state change.
	// Image events are forwarded with their payload.
	RequestEvent struct {
		Request    *RenderRequest
		Err        error
		StatusText string
		Type       RequestEventType
		RenderTime time.Duration
		Progress   float64
		Status     int
	}

	// RenderProps is passed to a [Renderer].
	RenderProps struct {
		Target     *RenderRequest
		Type       string
		RenderTime time.Duration
	}
	// Renderer performs the actual render of a request.
	// Its completion is not observed; the render scheduler
	// holds the queue for RenderTime regardless.
	Renderer func(RenderProps)
)

const (
	// RequestLoadStart forwards [ImageLoadStart].
	RequestLoadStart RequestEventType = 1 << iota
	// RequestProgress forwards [ImageProgress].
	RequestProgress
	// RequestError forwards [ImageError].
	RequestError
	// RequestLoadEnd is sent when the request enters the render queue;
	// its video bytes are known from then on.
	RequestLoadEnd
	// RequestRendering is sent when the request enters service.
	RequestRendering
	// RequestRender is sent when no [Renderer] is configured.
	// If nothing handles it, the request is logged instead.
	RequestRender
	// RequestRendered is sent once the render time has elapsed.
	RequestRendered
	// RequestCleared is sent by [RenderRequest.Clear].
	RequestCleared

	RequestAllEvents = RequestLoadStart | RequestProgress | RequestError |
		RequestLoadEnd | RequestRendering | RequestRender |
		RequestRendered | RequestCleared
)

// RenderType is the [RenderProps.Type] of every render.
const RenderType = "render"

func newRenderRequest(bucket *Bucket, props RequestProps) *RenderRequest {
	var (
		controller = bucket.controller
		request    = &RenderRequest{
			bucket:  bucket,
			size:    props.Size,
			visible: props.Visible,
		}
	)
	request.log = bucket.log.WithFields(logrus.Fields{
		"url":  props.URL,
		"size": props.Size,
	})
	request.image = controller.Image(props.URL)
	request.image.RegisterRequest(request)
	bucket.registerRequest(request)
	request.imageTokens = append(request.imageTokens,
		request.image.On(ImageLoadStart|ImageProgress|ImageError, request.forward),
	)
	switch image := request.image; {
	case !image.Loaded():
		request.imageTokens = append(request.imageTokens,
			image.On(ImageSize, func(ImageEvent) { request.Enqueue() }),
		)
	case image.IsDecoded(request.size):
		request.log.Debug("image already decoded")
		request.bytesVideo = image.BytesVideo(request.size)
		request.rendered = true
		// Listeners observe this on a later turn, never inline.
		request.timer = controller.scheduler.AfterFunc(0, request.onRendered)
	default:
		request.emit(RequestEvent{Type: RequestProgress, Progress: image.Progress()})
		request.Enqueue()
	}
	return request
}

func (r *RenderRequest) forward(e ImageEvent) {
	var kind RequestEventType
	switch e.Type {
	case ImageLoadStart:
		kind = RequestLoadStart
	case ImageProgress:
		kind = RequestProgress
	case ImageError:
		kind = RequestError
	default:
		return
	}
	r.emit(RequestEvent{
		Type:       kind,
		Err:        e.Err,
		Status:     e.Status,
		StatusText: e.StatusText,
		Progress:   e.Progress,
	})
}

// On subscribes handler to the events in mask.
func (r *RenderRequest) On(mask RequestEventType, handler func(RequestEvent)) event.Token {
	return r.events.On(mask, handler)
}

// Off removes a subscription made with [RenderRequest.On].
func (r *RenderRequest) Off(token event.Token) bool { return r.events.Off(token) }

func (r *RenderRequest) Image() Image      { return r.image }
func (r *RenderRequest) Bucket() *Bucket   { return r.bucket }
func (r *RenderRequest) Size() Size        { return r.size }
func (r *RenderRequest) BytesVideo() int64 { return r.bytesVideo }
func (r *RenderRequest) Rendered() bool    { return r.rendered }
func (r *RenderRequest) Requested() bool   { return r.requested }
func (r *RenderRequest) Cleared() bool     { return r.cleared }
func (r *RenderRequest) Visible() bool     { return r.visible }

// SetVisible marks the request as on screen (locked) or not.
func (r *RenderRequest) SetVisible(visible bool) { r.visible = visible }

// Decoded implements [framequeue.Request].
func (r *RenderRequest) Decoded() bool { return r.image.IsDecoded(r.size) }

// UncompressedBytes implements [framequeue.Request].
func (r *RenderRequest) UncompressedBytes() int64 { return r.image.BytesUncompressed() }

// Enqueue computes the video bytes of the request
// and adds it to the render queue.
func (r *RenderRequest) Enqueue() {
	if r.cleared || r.requested {
		return
	}
	r.log.Debug("requesting render")
	r.requested = true
	r.bytesVideo = r.image.BytesVideo(r.size)
	r.emit(RequestEvent{Type: RequestLoadEnd})
	r.bucket.controller.frames.Add(r)
}

// Render is called by the render queue when the request enters service.
// A renderTime of zero means the image is already rendered at this size.
func (r *RenderRequest) Render(renderTime time.Duration) {
	r.emit(RequestEvent{Type: RequestRendering, RenderTime: renderTime})
	if renderTime != 0 {
		props := RenderProps{
			Target:     r,
			RenderTime: renderTime,
			Type:       RenderType,
		}
		if renderer := r.bucket.controller.config.Renderer; renderer != nil {
			renderer(props)
		} else if !r.events.Emit(RequestRender, RequestEvent{
			Request:    r,
			Type:       RequestRender,
			RenderTime: renderTime,
		}) {
			logRenderer(r.log)(props)
		}
	}
	r.timer = r.bucket.controller.scheduler.AfterFunc(renderTime, r.onRendered)
}

func (r *RenderRequest) onRendered() {
	r.timer = nil
	r.rendered = true
	if r.cleared {
		r.log.Error("rendered cleared request")
		return
	}
	r.emit(RequestEvent{Type: RequestRendered})
}

// IsLocked reports whether the request must not be reclaimed.
func (r *RenderRequest) IsLocked() bool {
	return !r.rendered ||
		r.visible ||
		r.bucket.locked ||
		r.image.IsSizeLocked(r)
}

// Clear releases the request. Unless force is set,
// a locked request is left as is.
// It reports whether the request is cleared.
func (r *RenderRequest) Clear(force bool) bool {
	if r.cleared {
		return true
	}
	if !force && r.IsLocked() {
		return false
	}
	for _, token := range r.imageTokens {
		r.image.Off(token)
	}
	r.imageTokens = nil
	r.bucket.controller.frames.Remove(r)
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.cleared = true
	r.emit(RequestEvent{Type: RequestCleared})
	r.events.Reset()
	r.log.Debug("cleared")
	return true
}

func (r *RenderRequest) String() string {
	return fmt.Sprintf("%s@%v", r.image.URL(), r.size)
}

func (r *RenderRequest) emit(e RequestEvent) bool {
	e.Request = r
	return r.events.Emit(e.Type, e)
}

func (et RequestEventType) String() string {
	switch et {
	case RequestLoadStart:
		return "loadstart"
	case RequestProgress:
		return "progress"
	case RequestError:
		return "error"
	case RequestLoadEnd:
		return "loadend"
	case RequestRendering:
		return "rendering"
	case RequestRender:
		return "render"
	case RequestRendered:
		return "rendered"
	case RequestCleared:
		return "clear"
	default:
		return fmt.Sprintf("RequestEventType(%d)", uint32(et))
	}
}

// logRenderer is the fallback render operation.
func logRenderer(log logrus.FieldLogger) Renderer {
	return func(props RenderProps) {
		log.WithField("renderTime", props.RenderTime).
			Debug("render")
	}
}

var _ framequeue.Request = (*RenderRequest)(nil)
