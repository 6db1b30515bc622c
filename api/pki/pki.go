// Package pki serves the distribution API: the CA certificate and
// revocation list for trust bootstrapping, plus certificate lifecycle
// operations for configured services.
package pki

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"ztpki/api/endpoints"
	"ztpki/ca"
	"ztpki/certmanager"
	"ztpki/config"
	"ztpki/pkg/helper"
)

type pkiAPI struct {
	cfg       *config.Config
	authority ca.Authority
	manager   *certmanager.Manager
}

func New(cfg *config.Config, authority ca.Authority, manager *certmanager.Manager) *pkiAPI {
	return &pkiAPI{
		cfg:       cfg,
		authority: authority,
		manager:   manager,
	}
}

var _ endpoints.Endpoint = (*pkiAPI)(nil)

func (app *pkiAPI) PathAndName() (string, string) { return "/pki", "pki handler" }

func (app *pkiAPI) Route(e *echo.Group) {
	e.Use(handleError)

	e.GET("/ca/certificate", app.getCACertificate)
	e.GET("/ca/crl", app.getCRL)
	e.GET("/certs", app.listCertStatus)
	e.POST("/certs/:service", app.issueCert)
	e.POST("/certs/:service/rotate", app.rotateCert)
	e.DELETE("/certs/:service", app.revokeCert)
}

func handleError(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err == nil {
			return err
		}

		if _, ok := err.(*echo.HTTPError); ok {
			return err
		}

		code := http.StatusInternalServerError

		switch {
		case errors.Is(err, os.ErrNotExist):
			code = http.StatusNotFound
		case helper.IsValidationError(err):
			code = http.StatusBadRequest
		default:
			log.Debugf("unhandled err=%T %t, %v", err, err, err)
		}

		return echo.NewHTTPError(code, err.Error())
	}
}

func (app *pkiAPI) getCACertificate(c echo.Context) error {
	certPEM, err := app.authority.CACertificatePEM(c.Request().Context())
	if err != nil {
		return err
	}

	return c.Blob(http.StatusOK, "application/x-pem-file", certPEM)
}

// getCRL the revocation list as a serial -> revocation time map. A CA that
// never revoked anything serves an empty object.
func (app *pkiAPI) getCRL(c echo.Context) error {
	data, err := os.ReadFile(app.cfg.CRLPath())
	if err != nil {
		if os.IsNotExist(err) {
			return c.JSON(http.StatusOK, map[string]string{})
		}
		return err
	}

	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

func (app *pkiAPI) listCertStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, app.manager.CertStatus())
}

// IssueRequest body of POST /certs/:service
type IssueRequest struct {
	ValidityDays int `json:"validity_days" validate:"gte=0"`
}

// IssueResponse issued certificate material; the private key is returned
// once and never persisted by the server beyond the service directory
type IssueResponse struct {
	Service     string `json:"service"`
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
}

func (app *pkiAPI) issueCert(c echo.Context) error {
	var req IssueRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	service := c.Param("service")
	certPEM, keyPEM, err := app.manager.GenerateCert(c.Request().Context(), service, req.ValidityDays)
	if err != nil {
		return err
	}

	if _, _, err := app.manager.SaveCert(service, certPEM, keyPEM); err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &IssueResponse{
		Service:     service,
		Certificate: string(certPEM),
		PrivateKey:  string(keyPEM),
	})
}

func (app *pkiAPI) rotateCert(c echo.Context) error {
	rotated, err := app.manager.RotateCert(c.Request().Context(), c.Param("service"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"rotated": rotated})
}

func (app *pkiAPI) revokeCert(c echo.Context) error {
	if err := app.manager.RevokeCert(c.Request().Context(), c.Param("service")); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
