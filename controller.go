package imagecache

import (
	"fmt"
	"iter"
	"time"

	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/fetch"
	"github.com/djdv/go-imagecache/framequeue"
	"github.com/djdv/go-imagecache/internal/logging"
	"github.com/djdv/go-imagecache/internal/ordered"
	"github.com/djdv/go-imagecache/loop"
	"github.com/djdv/go-imagecache/memory"
	"github.com/djdv/go-imagecache/network"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type (
	// Controller owns the image cache and the resources
	// image rendering consumes. Every method must be called
	// on the goroutine driving its [loop.Scheduler].
	// Constructed by [New].
	Controller struct {
		scheduler loop.Scheduler
		log       logrus.FieldLogger
		fetcher   fetch.Fetcher
		newImage  ImageFactory
		ram       *memory.Memory
		video     *memory.Memory
		network   *network.Network
		frames    *framequeue.FrameQueue
		cache     *ordered.Map[string, *cacheEntry]
		buckets   *ordered.Map[string, *Bucket]
		events    event.Emitter[EventType, Event]
		config    Config
	}
	// Config holds the budgets and tunables of a [Controller].
	Config struct {
		// Renderer, if set, performs every render.
		Renderer Renderer
		Units    memory.Units
		// RAMSize and VideoSize are in Units.
		RAMSize      float64
		VideoSize    float64
		MaxLoaders   int
		HardwareRank float64
		// LoadTimeout aborts loads that take longer; zero disables it.
		LoadTimeout time.Duration
		// GPUDataFull charges every request its own video bytes,
		// even when another request already rendered the same size.
		GPUDataFull bool
	}
	// Option configures a [Controller] during [New].
	Option func(*Controller)
	// EventType enumerates [Controller] notifications.
	EventType uint32
	// Event describes a change to a [Controller].
	Event struct {
		Controller *Controller
		Image      Image
		Request    *RenderRequest
		Type       EventType
		// Bytes is the unresolved overflow for
		// [RAMOverflow] and [VideoOverflow].
		Bytes int64
	}
	// Stats is a snapshot suitable for logging or dashboards.
	Stats struct {
		RAM      memory.Stats `json:"ram"`
		Video    memory.Stats `json:"video"`
		Images   int          `json:"images"`
		Requests int          `json:"requests"`
		Buckets  int          `json:"buckets"`
		Queued   int          `json:"queued"`
		InFlight int          `json:"inFlight"`
		Pending  int          `json:"pendingRenders"`
		Paused   bool         `json:"paused"`
	}

	// cacheEntry is a cached image and the RAM it was charged.
	cacheEntry struct {
		image  Image
		ram    []int64
		tokens []event.Token
	}
)

const (
	// ImageAdded is sent when an image is created and cached.
	ImageAdded EventType = 1 << iota
	// ImageRemoved is sent when an image is evicted.
	ImageRemoved
	// RequestAdded is sent when a request registers with an image.
	RequestAdded
	// RequestRemoved is sent when a request is cleared.
	RequestRemoved
	// RAMOverflow is sent when eviction could not cover a RAM overflow.
	RAMOverflow
	// VideoOverflow is sent when eviction could not cover a video overflow.
	VideoOverflow
	// Update is sent after any change to the cache or the budgets.
	Update
	// Cleared is sent by [Controller.Clear].
	Cleared

	AllEvents = ImageAdded | ImageRemoved | RequestAdded | RequestRemoved |
		RAMOverflow | VideoOverflow | Update | Cleared
)

// DefaultConfig returns 2GB of RAM, 1GB of video memory,
// 6 loaders and the fastest hardware rank.
func DefaultConfig() Config {
	return Config{
		RAMSize:      2,
		VideoSize:    1,
		MaxLoaders:   network.DefaultMaxLoaders,
		Units:        memory.Gigabytes,
		HardwareRank: framequeue.DefaultHardwareRank,
	}
}

// New creates a [Controller] driven by scheduler.
func New(scheduler loop.Scheduler, config Config, options ...Option) (*Controller, error) {
	controller := &Controller{
		scheduler: scheduler,
		newImage:  NewRemoteImage,
		cache:     ordered.New[string, *cacheEntry](),
		buckets:   ordered.New[string, *Bucket](),
		config:    config,
	}
	for _, apply := range options {
		apply(controller)
	}
	log := controller.log
	if log == nil {
		log = logging.Discard()
	}
	controller.log = logging.Component(log, "controller")
	if controller.fetcher == nil {
		controller.fetcher = fetch.NewHTTP(scheduler, fetch.WithLogger(log))
	}
	if config.LoadTimeout < 0 {
		return nil, timeoutError(config.LoadTimeout)
	}
	var err error
	if controller.ram, err = memory.New("RAM", config.RAMSize, config.Units,
		memory.WithLogger(log)); err != nil {
		return nil, configError(err)
	}
	if controller.video, err = memory.New("VIDEO", config.VideoSize, config.Units,
		memory.WithLogger(log)); err != nil {
		return nil, configError(err)
	}
	if controller.network, err = network.New(
		network.WithMaxLoaders(config.MaxLoaders),
		network.WithLogger(log),
	); err != nil {
		return nil, configError(err)
	}
	if controller.frames, err = framequeue.New(scheduler,
		framequeue.WithHardwareRank(config.HardwareRank),
		framequeue.WithLogger(log),
	); err != nil {
		return nil, configError(err)
	}
	controller.log.WithFields(logrus.Fields{
		"ram":         config.RAMSize,
		"video":       config.VideoSize,
		"units":       config.Units,
		"loaders":     config.MaxLoaders,
		"gpuDataFull": config.GPUDataFull,
	}).Info("created controller")
	return controller, nil
}

// WithLogger sets the logger used by the [Controller] and its components.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithFetcher replaces the default HTTP transport.
func WithFetcher(fetcher fetch.Fetcher) Option {
	return func(c *Controller) { c.fetcher = fetcher }
}

// WithImageFactory replaces [NewRemoteImage].
func WithImageFactory(factory ImageFactory) Option {
	return func(c *Controller) { c.newImage = factory }
}

// On subscribes handler to the events in mask.
func (c *Controller) On(mask EventType, handler func(Event)) event.Token {
	return c.events.On(mask, handler)
}

// Off removes a subscription made with [Controller.On].
func (c *Controller) Off(token event.Token) bool { return c.events.Off(token) }

func (c *Controller) Config() Config                     { return c.config }
func (c *Controller) RAM() *memory.Memory                { return c.ram }
func (c *Controller) Video() *memory.Memory              { return c.video }
func (c *Controller) Network() *network.Network          { return c.network }
func (c *Controller) FrameQueue() *framequeue.FrameQueue { return c.frames }

// Len returns the number of cached images.
func (c *Controller) Len() int { return c.cache.Len() }

// Images yields the cached images, oldest first.
func (c *Controller) Images() iter.Seq[Image] {
	return func(yield func(Image) bool) {
		for _, entry := range c.cache.All() {
			if !yield(entry.image) {
				return
			}
		}
	}
}

// RequestCount returns the number of live requests across the cache.
func (c *Controller) RequestCount() int {
	var count int
	for image := range c.Images() {
		for range image.Requests() {
			count++
		}
	}
	return count
}

// Lookup returns the cached image for url, if any.
func (c *Controller) Lookup(url string) (Image, bool) {
	if entry, ok := c.cache.Get(url); ok {
		return entry.image, true
	}
	return nil, false
}

// Image returns the cached image for url, creating
// and queueing it for load if it is not cached.
func (c *Controller) Image(url string) Image {
	if entry, ok := c.cache.Get(url); ok {
		return entry.image
	}
	return c.createImage(url)
}

func (c *Controller) createImage(url string) Image {
	var (
		image = c.newImage(ImageProps{
			URL:         url,
			Scheduler:   c.scheduler,
			Fetcher:     c.fetcher,
			Log:         c.log,
			LoadTimeout: c.config.LoadTimeout,
			GPUDataFull: c.config.GPUDataFull,
		})
		entry = &cacheEntry{image: image}
	)
	c.cache.Set(url, entry)
	entry.tokens = []event.Token{
		image.On(ImageLoadEnd, func(e ImageEvent) {
			c.addRAMBytes(entry, e.Bytes)
		}),
		image.On(ImageSize, func(e ImageEvent) {
			c.addRAMBytes(entry, image.BytesVideo(e.Size))
		}),
		image.On(ImageRequestAdded, c.onRequestAdded),
		image.On(ImageRequestRendered, c.onRequestRendered),
		image.On(ImageRequestRemoved, c.onRequestRemoved),
	}
	c.network.Add(image)
	c.log.WithField("url", url).Debug("image added")
	c.emit(Event{Type: ImageAdded, Image: image})
	c.emit(Event{Type: Update})
	return image
}

// NewBucket creates a [Bucket]. An empty name is replaced by a
// random identifier.
func (c *Controller) NewBucket(name string, locked bool) (*Bucket, error) {
	if name == "" {
		name = uuid.NewString()
	}
	if c.buckets.Has(name) {
		return nil, bucketExistsError(name)
	}
	bucket := newBucket(c, name, locked)
	c.buckets.Set(name, bucket)
	return bucket, nil
}

// Bucket returns the live bucket called name.
func (c *Controller) Bucket(name string) (*Bucket, bool) { return c.buckets.Get(name) }

// Buckets yields the live buckets in creation order.
func (c *Controller) Buckets() iter.Seq[*Bucket] { return c.buckets.Values() }

func (c *Controller) forgetBucket(bucket *Bucket) {
	if current, ok := c.buckets.Get(bucket.name); ok && current == bucket {
		c.buckets.Delete(bucket.name)
	}
}

// Stats returns a snapshot of the controller's resources.
func (c *Controller) Stats() Stats {
	return Stats{
		RAM:      c.ram.Stats(),
		Video:    c.video.Stats(),
		Images:   c.cache.Len(),
		Requests: c.RequestCount(),
		Buckets:  c.buckets.Len(),
		Queued:   c.network.Queued(),
		InFlight: c.network.InFlight(),
		Pending:  c.frames.Len(),
		Paused:   c.network.Paused(),
	}
}

// Clear drops every image, bucket, pending load and render,
// zeroes both budgets and removes every subscription.
func (c *Controller) Clear() {
	for url, entry := range c.cache.All() {
		c.cache.Delete(url)
		entry.image.Clear()
	}
	for bucket := range c.buckets.Values() {
		bucket.Clear()
	}
	c.network.Clear()
	c.frames.Clear()
	c.ram.Clear()
	c.video.Clear()
	c.log.Info("cleared")
	c.emit(Event{Type: Cleared})
	c.events.Reset()
}

func (c *Controller) deleteImage(url string, entry *cacheEntry) {
	c.cache.Delete(url)
	for _, bytes := range entry.ram {
		c.ram.RemoveBytes(bytes)
	}
	entry.ram = nil
	c.network.Remove(entry.image)
	entry.image.Clear()
	for _, token := range entry.tokens {
		entry.image.Off(token)
	}
	c.log.WithField("url", url).Debug("image removed")
	c.emit(Event{Type: ImageRemoved, Image: entry.image})
	c.emit(Event{Type: Update})
}

func (c *Controller) onRequestAdded(e ImageEvent) {
	c.emit(Event{Type: RequestAdded, Image: e.Image, Request: e.Request})
	c.emit(Event{Type: Update})
}

func (c *Controller) onRequestRendered(e ImageEvent) {
	c.addVideoBytes(e.Bytes)
}

func (c *Controller) onRequestRemoved(e ImageEvent) {
	c.emit(Event{Type: RequestRemoved, Image: e.Image, Request: e.Request})
	if e.Bytes > 0 {
		c.video.RemoveBytes(e.Bytes)
	}
	c.emit(Event{Type: Update})
}

func (c *Controller) addRAMBytes(entry *cacheEntry, bytes int64) {
	if bytes <= 0 {
		return
	}
	entry.ram = append(entry.ram, bytes)
	if remaining := c.ram.AddBytes(bytes); remaining < 0 {
		if overflow := -remaining; !c.requestRAM(overflow) {
			c.log.WithField("bytes", overflow).Warn("RAM overflow")
			c.emit(Event{Type: RAMOverflow, Bytes: overflow})
		}
	}
	c.emit(Event{Type: Update})
}

// requestRAM deletes unlocked images, oldest first, until
// bytes are freed. It reports whether that succeeded.
func (c *Controller) requestRAM(bytes int64) bool {
	var freed int64
	for url, entry := range c.cache.All() {
		if entry.image.IsLocked() {
			continue
		}
		for _, charged := range entry.ram {
			freed += charged
		}
		c.deleteImage(url, entry)
		if freed >= bytes {
			return true
		}
	}
	if debugging {
		assert(c.ram.Bytes() >= 0, "RAM usage below zero after eviction")
	}
	return false
}

func (c *Controller) addVideoBytes(bytes int64) {
	if bytes <= 0 {
		return
	}
	if remaining := c.video.AddBytes(bytes); remaining < 0 {
		if overflow := -remaining; !c.requestVideo(overflow) {
			c.log.WithField("bytes", overflow).Warn("video overflow")
			c.emit(Event{Type: VideoOverflow, Bytes: overflow})
		}
	}
	c.emit(Event{Type: Update})
}

// requestVideo clears unlocked requests, oldest image first,
// until bytes are freed. It reports whether that succeeded.
func (c *Controller) requestVideo(bytes int64) bool {
	start := c.video.Bytes()
	for _, entry := range c.cache.All() {
		// Clearing the sharers of a size frees nothing itself
		// but unlocks the owner, so rescan until nothing clears.
		for cleared := true; cleared; {
			cleared = false
			for request := range entry.image.Requests() {
				if !request.Clear(false) {
					continue
				}
				cleared = true
				if freed := start - c.video.Bytes(); freed >= bytes {
					return true
				}
			}
		}
	}
	if debugging {
		assert(c.video.Bytes() >= 0, "video usage below zero after eviction")
	}
	return false
}

func (c *Controller) emit(e Event) {
	e.Controller = c
	c.events.Emit(e.Type, e)
}

func (et EventType) String() string {
	switch et {
	case ImageAdded:
		return "image-added"
	case ImageRemoved:
		return "image-removed"
	case RequestAdded:
		return "render-request-added"
	case RequestRemoved:
		return "render-request-removed"
	case RAMOverflow:
		return "ram-overflow"
	case VideoOverflow:
		return "video-overflow"
	case Update:
		return "update"
	case Cleared:
		return "clear"
	default:
		return fmt.Sprintf("EventType(%d)", uint32(et))
	}
}
