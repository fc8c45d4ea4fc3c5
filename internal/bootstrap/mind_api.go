package bootstrap

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	handlers "mailmind/adapter/in/http"
	"mailmind/pkg/response"
)

// NewAPI builds the Fiber app over an already-wired dependency graph.
// The API is a local, read-mostly surface; no auth layer.
func NewAPI(deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "mailmind",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             1 * 1024 * 1024,

		// go-json over encoding/json, same as the rest of the codebase
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return response.Error(c, fe.Code, "HTTP_ERROR", fe.Message)
			}
			return response.FromError(c, err)
		},
	})

	app.Use(recover.New())
	app.Use(requestLogger(deps.Log))

	handlers.NewHealthHandler(deps.Store, deps.Redis).Register(app)

	v1 := app.Group("/api/v1")
	handlers.NewMessageHandler(deps.Store).Register(v1)
	handlers.NewRuleHandler(deps.Store).Register(v1)
	handlers.NewBriefHandler(deps.Store, deps.Pipeline).Register(v1)
	handlers.NewFeedbackHandler(deps.Learner).Register(v1)

	return app
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}
