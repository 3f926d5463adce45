package imagecache

import (
	"fmt"
	"iter"
	"time"

	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/fetch"
	"github.com/djdv/go-imagecache/loop"
	"github.com/djdv/go-imagecache/network"
	"github.com/sirupsen/logrus"
)

type (
	// Size is a pixel extent.
	Size struct {
		Width  int `json:"width" yaml:"width"`
		Height int `json:"height" yaml:"height"`
	}

	// Image is the data behind one URL, as the [Controller] sees it.
	// It is also the [network.Loader] that retrieves that data.
	Image interface {
		network.Loader
		// Loaded reports whether the data and its dimensions are known.
		Loaded() bool
		// Progress is the load progress in [0,1].
		Progress() float64
		// Size returns the natural dimensions once loaded.
		Size() Size
		// Bytes is the compressed (transferred) size.
		Bytes() int64
		// BytesUncompressed is the decoded size at natural dimensions.
		BytesUncompressed() int64
		// BytesRAM is Bytes plus BytesUncompressed.
		BytesRAM() int64
		// BytesVideo is the device memory a render at size occupies.
		BytesVideo(size Size) int64
		// IsDecoded reports whether a render at size already exists.
		IsDecoded(size Size) bool
		// IsSizeLocked reports whether request owns device memory
		// that other live requests depend on.
		IsSizeLocked(request *RenderRequest) bool
		// IsLocked reports whether any request of the image is locked.
		IsLocked() bool
		// Requests yields the registered requests in registration order.
		Requests() iter.Seq[*RenderRequest]
		// RegisterRequest associates request with the image.
		RegisterRequest(request *RenderRequest)
		// Clear force-clears every request, aborts any load
		// and removes every subscription.
		Clear()
		On(mask ImageEventType, handler func(ImageEvent)) event.Token
		Off(token event.Token) bool
	}
	// ImageEventType enumerates [Image] notifications.
	ImageEventType uint32
	// ImageEvent describes a change to an [Image].
	ImageEvent struct {
		Image      Image
		Request    *RenderRequest
		Err        error
		StatusText string
		Type       ImageEventType
		Size       Size
		Bytes      int64
		Progress   float64
		Status     int
	}

	// ImageProps is what an [ImageFactory] receives.
	ImageProps struct {
		Scheduler   loop.Scheduler
		Fetcher     fetch.Fetcher
		Log         logrus.FieldLogger
		URL         string
		LoadTimeout time.Duration
		GPUDataFull bool
	}
	// ImageFactory constructs the [Image] for a URL.
	ImageFactory func(ImageProps) Image
)

const (
	// ImageLoadStart is sent when the load begins.
	ImageLoadStart ImageEventType = 1 << iota
	// ImageProgress carries the fraction loaded.
	ImageProgress
	// ImageLoadEnd carries the compressed byte count.
	ImageLoadEnd
	// ImageSize carries the natural dimensions, after [ImageLoadEnd].
	ImageSize
	// ImageError carries the status of a failed or timed out load.
	ImageError
	// ImageRequestAdded is sent by [Image.RegisterRequest].
	ImageRequestAdded
	// ImageRequestRendered carries the video bytes charged to the request,
	// zero when another request already owns its size.
	ImageRequestRendered
	// ImageRequestRemoved carries the video bytes released
	// by a cleared request.
	ImageRequestRemoved
	// ImageCleared is sent by [Image.Clear].
	ImageCleared

	ImageAllEvents = ImageLoadStart | ImageProgress | ImageLoadEnd |
		ImageSize | ImageError | ImageRequestAdded |
		ImageRequestRendered | ImageRequestRemoved | ImageCleared
)

// BytesPerPixel is the size of a decoded RGBA pixel.
const BytesPerPixel = 4

// Pixels returns the pixel count.
func (s Size) Pixels() int64 { return int64(s.Width) * int64(s.Height) }

// Bytes returns the decoded RGBA size.
func (s Size) Bytes() int64 { return s.Pixels() * BytesPerPixel }

// Valid reports whether both dimensions are non-negative.
func (s Size) Valid() bool { return s.Width >= 0 && s.Height >= 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

func (et ImageEventType) String() string {
	switch et {
	case ImageLoadStart:
		return "load-start"
	case ImageProgress:
		return "progress"
	case ImageLoadEnd:
		return "load-end"
	case ImageSize:
		return "size"
	case ImageError:
		return "error"
	case ImageRequestAdded:
		return "render-request-added"
	case ImageRequestRendered:
		return "render-request-rendered"
	case ImageRequestRemoved:
		return "render-request-removed"
	case ImageCleared:
		return "clear"
	default:
		return fmt.Sprintf("ImageEventType(%d)", uint32(et))
	}
}
