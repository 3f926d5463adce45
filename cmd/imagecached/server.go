package main

import (
	"context"
	"errors"

	"github.com/djdv/go-imagecache"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type (
	// caller runs callbacks on the goroutine that owns the controller.
	caller interface {
		Call(ctx context.Context, callback func()) error
	}
	server struct {
		runtime    caller
		controller *imagecache.Controller
		log        logrus.FieldLogger
	}

	bucketProps struct {
		Name   string `json:"name"`
		Locked bool   `json:"locked"`
	}
	lockProps struct {
		Locked bool `json:"locked"`
	}
	bucketView struct {
		Name         string                `json:"name"`
		Members      []requestView         `json:"members"`
		Video        imagecache.VideoUnits `json:"video"`
		RAM          imagecache.RAMUnits   `json:"ram"`
		LoadProgress float64               `json:"loadProgress"`
		Requests     int                   `json:"requests"`
		Locked       bool                  `json:"locked"`
		Loading      bool                  `json:"loading"`
		Loaded       bool                  `json:"loaded"`
		Rendered     bool                  `json:"rendered"`
	}
	requestView struct {
		URL        string          `json:"url"`
		Size       imagecache.Size `json:"size"`
		BytesVideo int64           `json:"bytesVideo"`
		Requested  bool            `json:"requested"`
		Rendered   bool            `json:"rendered"`
		Visible    bool            `json:"visible"`
		Locked     bool            `json:"locked"`
	}
)

func newApp(srv *server) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:       "imagecached",
		CaseSensitive: true,
		StrictRouting: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			var fiberErr *fiber.Error
			switch {
			case errors.As(err, &fiberErr):
				status = fiberErr.Code
			case errors.Is(err, context.Canceled),
				errors.Is(err, context.DeadlineExceeded):
				status = fiber.StatusServiceUnavailable
			}
			srv.log.WithFields(logrus.Fields{
				"path":   c.Path(),
				"method": c.Method(),
				"status": status,
			}).WithError(err).Error("error handling request")
			return httpError(c, status, err.Error())
		},
	})
	app.Use(func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}
		srv.log.WithFields(logrus.Fields{
			"path":   c.Path(),
			"method": c.Method(),
		}).Debug("incoming request")
		return c.Next()
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("OK") })
	app.Get("/stats", srv.stats)
	app.Delete("/cache", srv.clearCache)

	app.Post("/network/pause", srv.pauseNetwork)
	app.Post("/network/resume", srv.resumeNetwork)

	app.Get("/buckets", srv.listBuckets)
	app.Post("/buckets", srv.createBucket)
	app.Get("/buckets/:name", srv.getBucket)
	app.Patch("/buckets/:name", srv.lockBucket)
	app.Delete("/buckets/:name", srv.clearBucket)
	app.Post("/buckets/:name/requests", srv.addRequest)
	return app
}

// httpError sends a JSON error body.
func httpError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func (s *server) onLoop(c *fiber.Ctx, callback func()) error {
	return s.runtime.Call(c.UserContext(), callback)
}

func (s *server) stats(c *fiber.Ctx) error {
	var stats imagecache.Stats
	if err := s.onLoop(c, func() { stats = s.controller.Stats() }); err != nil {
		return err
	}
	return c.JSON(stats)
}

func (s *server) clearCache(c *fiber.Ctx) error {
	if err := s.onLoop(c, s.controller.Clear); err != nil {
		return err
	}
	s.log.Info("cache cleared")
	return c.JSON(fiber.Map{"message": "cache cleared"})
}

func (s *server) pauseNetwork(c *fiber.Ctx) error {
	if err := s.onLoop(c, s.controller.Network().Pause); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"paused": true})
}

func (s *server) resumeNetwork(c *fiber.Ctx) error {
	if err := s.onLoop(c, s.controller.Network().Resume); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"paused": false})
}

func (s *server) listBuckets(c *fiber.Ctx) error {
	var views []bucketView
	if err := s.onLoop(c, func() {
		for bucket := range s.controller.Buckets() {
			views = append(views, viewBucket(bucket))
		}
	}); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"buckets": views})
}

func (s *server) createBucket(c *fiber.Ctx) error {
	var props bucketProps
	if err := c.BodyParser(&props); err != nil {
		return httpError(c, fiber.StatusBadRequest, err.Error())
	}
	var (
		view bucketView
		err  error
	)
	if callErr := s.onLoop(c, func() {
		var bucket *imagecache.Bucket
		if bucket, err = s.controller.NewBucket(props.Name, props.Locked); err == nil {
			view = viewBucket(bucket)
		}
	}); callErr != nil {
		return callErr
	}
	if errors.Is(err, imagecache.ErrBucketExists) {
		return httpError(c, fiber.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// withBucket runs callback on the loop with the named bucket,
// responding 404 if there is none.
func (s *server) withBucket(c *fiber.Ctx, callback func(*imagecache.Bucket)) (bool, error) {
	var (
		name  = c.Params("name")
		found bool
	)
	err := s.onLoop(c, func() {
		var bucket *imagecache.Bucket
		if bucket, found = s.controller.Bucket(name); found {
			callback(bucket)
		}
	})
	return found, err
}

func (s *server) bucketNotFound(c *fiber.Ctx) error {
	return httpError(c, fiber.StatusNotFound, "bucket not found: "+c.Params("name"))
}

func (s *server) getBucket(c *fiber.Ctx) error {
	var view bucketView
	found, err := s.withBucket(c, func(bucket *imagecache.Bucket) {
		view = viewBucket(bucket)
	})
	switch {
	case err != nil:
		return err
	case !found:
		return s.bucketNotFound(c)
	}
	return c.JSON(view)
}

func (s *server) lockBucket(c *fiber.Ctx) error {
	var props lockProps
	if err := c.BodyParser(&props); err != nil {
		return httpError(c, fiber.StatusBadRequest, err.Error())
	}
	var view bucketView
	found, err := s.withBucket(c, func(bucket *imagecache.Bucket) {
		bucket.SetLocked(props.Locked)
		view = viewBucket(bucket)
	})
	switch {
	case err != nil:
		return err
	case !found:
		return s.bucketNotFound(c)
	}
	return c.JSON(view)
}

func (s *server) clearBucket(c *fiber.Ctx) error {
	found, err := s.withBucket(c, (*imagecache.Bucket).Clear)
	switch {
	case err != nil:
		return err
	case !found:
		return s.bucketNotFound(c)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *server) addRequest(c *fiber.Ctx) error {
	var props imagecache.RequestProps
	if err := c.BodyParser(&props); err != nil {
		return httpError(c, fiber.StatusBadRequest, err.Error())
	}
	var (
		view       requestView
		requestErr error
	)
	found, err := s.withBucket(c, func(bucket *imagecache.Bucket) {
		var request *imagecache.RenderRequest
		if request, requestErr = bucket.Request(props); requestErr == nil {
			view = viewRequest(request)
		}
	})
	switch {
	case err != nil:
		return err
	case !found:
		return s.bucketNotFound(c)
	case errors.Is(requestErr, imagecache.ErrInvalidRequest):
		return httpError(c, fiber.StatusBadRequest, requestErr.Error())
	case errors.Is(requestErr, imagecache.ErrBucketCleared):
		return httpError(c, fiber.StatusGone, requestErr.Error())
	case requestErr != nil:
		return requestErr
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func viewBucket(bucket *imagecache.Bucket) bucketView {
	view := bucketView{
		Name:         bucket.Name(),
		Members:      make([]requestView, 0, bucket.Len()),
		Video:        bucket.VideoUnits(),
		RAM:          bucket.RAMUnits(),
		LoadProgress: bucket.LoadProgress(),
		Requests:     bucket.Len(),
		Locked:       bucket.Locked(),
		Loading:      bucket.Loading(),
		Loaded:       bucket.Loaded(),
		Rendered:     bucket.Rendered(),
	}
	for request := range bucket.Requests() {
		view.Members = append(view.Members, viewRequest(request))
	}
	return view
}

func viewRequest(request *imagecache.RenderRequest) requestView {
	return requestView{
		URL:        request.Image().URL(),
		Size:       request.Size(),
		BytesVideo: request.BytesVideo(),
		Requested:  request.Requested(),
		Rendered:   request.Rendered(),
		Visible:    request.Visible(),
		Locked:     request.IsLocked(),
	}
}
