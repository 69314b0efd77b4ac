package app

import (
	"errors"
	"strconv"

	"github.com/Genocadio/cavgocompany-sub001/internal/config"
	"github.com/Genocadio/cavgocompany-sub001/internal/fleet"
	"github.com/Genocadio/cavgocompany-sub001/internal/service"
	"github.com/Genocadio/cavgocompany-sub001/internal/stream"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

func App(settings *config.Settings, logger *zerolog.Logger, agg *fleet.Aggregator, hub *stream.Hub, geocoder *service.Geocoder) *fiber.App {
	// all the fiber logic here, routes, middleware
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return ErrorHandler(c, err, logger)
		},
		DisableStartupMessage: true,
		ReadBufferSize:        16000,
	})

	app.Use(fiberrecover.New(fiberrecover.Config{
		Next:              nil,
		EnableStackTrace:  true,
		StackTraceHandler: nil,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/health", healthCheck)

	// current merged car list for the dashboard
	app.Get("/v1/fleet", func(c *fiber.Ctx) error {
		return c.JSON(agg.Cars())
	})

	// address tooltip lookup
	app.Get("/v1/geocode", func(c *fiber.Ctx) error {
		lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
		lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
		if latErr != nil || lngErr != nil {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng query parameters are required")
		}

		address, err := geocoder.ReverseGeocode(c.Context(), lat, lng)
		if err != nil {
			if errors.Is(err, service.ErrGeocodingDisabled) {
				return fiber.NewError(fiber.StatusNotImplemented, err.Error())
			}
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(fiber.Map{"address": address})
	})

	// live merged snapshots pushed to the dashboard
	app.Use("/v1/fleet/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/v1/fleet/stream", websocket.New(func(conn *websocket.Conn) {
		client := hub.Register()
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case payload, ok := <-client.Send:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))

	return app
}

func healthCheck(c *fiber.Ctx) error {
	res := map[string]interface{}{
		"data": "Server is up and running",
	}

	err := c.JSON(res)

	if err != nil {
		return err
	}

	return nil
}

// ErrorHandler custom handler to log recovered errors using our logger and return json instead of string
func ErrorHandler(c *fiber.Ctx, err error, logger *zerolog.Logger) error {
	code := fiber.StatusInternalServerError // Default 500 statuscode

	var e *fiber.Error
	if errors.As(err, &e) {
		// Override status code if fiber.Error type
		code = e.Code
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	codeStr := strconv.Itoa(code)

	if code != fiber.StatusNotFound {
		logger.Err(err).Str("httpStatusCode", codeStr).
			Str("httpMethod", c.Method()).
			Str("httpPath", c.Path()).
			Msg("caught an error from http request")
	}

	return c.Status(code).JSON(ErrorRes{
		Code:    code,
		Message: err.Error(),
	})
}

type ErrorRes struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
