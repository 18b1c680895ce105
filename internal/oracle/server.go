package oracle

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

const DefaultBodyLimit = 64 << 20

type ServerConfig struct {
	BodyLimit int
}

// Server exposes an Oracle over HTTP so it can be consumed by Remote.
type Server struct {
	App    *fiber.App
	oracle Oracle
	kind   ModelKind
}

func NewServer(o Oracle, kind ModelKind, cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	if cfg.BodyLimit == 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		Prefork:               false,
		DisableStartupMessage: true,
		ErrorHandler:          fiberErrHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	s := &Server{
		App:    app,
		oracle: o,
		kind:   kind,
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "model": kind.Tag()})
	})
	app.Post(PredictPath, s.predict)

	return s
}

func (s *Server) Listen(addr string) error {
	log.Info().Str("addr", addr).Str("model", s.kind.String()).Msg("oracle server listening")
	return s.App.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.App.Shutdown()
}

func (s *Server) predict(c *fiber.Ctx) error {
	var req PredictRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
	}
	if req.Model != "" && req.Model != s.kind.Tag() {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("server holds %s, request asked for %s", s.kind.Tag(), req.Model))
	}

	batch, err := fromRows(req.Inputs, len(req.Inputs))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid inputs: %v", err))
	}

	var p Prediction
	if prob, ok := s.oracle.(Probabilistic); ok {
		p, err = prob.PredictWithUncertainty(c.UserContext(), batch)
	} else {
		p.Mean, err = s.oracle.Predict(c.UserContext(), batch)
	}
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	return c.JSON(PredictResponse{
		Success:     true,
		Mean:        toRows(p.Mean),
		Uncertainty: toRowsOrNil(p.Uncertainty),
	})
}

func toRowsOrNil(m *mat.Dense) [][]float64 {
	if m == nil {
		return nil
	}
	return toRows(m)
}

func fiberErrHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	log.Error().
		Err(err).
		Int("status_code", code).
		Str("path", ctx.Path()).
		Str("method", ctx.Method()).
		Msg("oracle server error")

	return ctx.Status(code).JSON(PredictResponse{Success: false, Error: err.Error()})
}
