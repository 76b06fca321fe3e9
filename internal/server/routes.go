package server

import (
	"net/http"
	"strconv"

	"github.com/berfenger/srne2mqtt/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type registersResponse struct {
	Address uint16   `json:"address"`
	Values  []uint16 `json:"values"`
}

type integratedResponse struct {
	Integrated bool `json:"integrated"`
	Changed    bool `json:"changed"`
}

type versionResponse struct {
	Version  string `json:"version"`
	Revision string `json:"revision"`
	Dirty    bool   `json:"dirty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/telemetry", s.TelemetryHandler)
	e.GET("/registers", s.RegistersHandler)
	e.PUT("/integrated", s.IntegratedHandler)
	e.GET("/version", s.VersionHandler)
	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) TelemetryHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, &domain.ControllerGetStateRequest{}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.ControllerGetStateResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusBadGateway, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, response.State)
}

// RegistersHandler reads raw holding registers, e.g. /registers?address=0x0100&count=4.
func (s *Server) RegistersHandler(c echo.Context) error {
	address, err := strconv.ParseUint(c.QueryParam("address"), 0, 16)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid address")
	}
	count := uint64(1)
	if raw := c.QueryParam("count"); raw != "" {
		count, err = strconv.ParseUint(raw, 10, 16)
		if err != nil || count == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid count")
		}
	}
	req := domain.ReadRegistersRequest{Address: uint16(address), Count: uint16(count)}
	res, err := s.rootContext.RequestFuture(s.masterActor, req, REQUEST_TIMEOUT).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.ReadRegistersResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusBadGateway, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, registersResponse{Address: response.Address, Values: response.Values})
}

// IntegratedHandler switches integration mode, e.g. PUT /integrated?enable=false.
func (s *Server) IntegratedHandler(c echo.Context) error {
	enable, err := strconv.ParseBool(c.QueryParam("enable"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid enable value")
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, &domain.ControllerSetIntegratedRequest{Enable: enable}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.ControllerSetIntegratedResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusInternalServerError, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, integratedResponse{Integrated: response.Integrated, Changed: response.Changed})
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, versionResponse{
		Version:  versioninfo.Short(),
		Revision: versioninfo.Revision,
		Dirty:    versioninfo.DirtyBuild,
	})
}
