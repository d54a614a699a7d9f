package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// checkSubdomain reports whether a subdomain and base path are free under a
// project domain, with suggestions when they are not.
func (s *Server) checkSubdomain(c echo.Context) error {
	var req SubdomainCheckRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := s.opts.Checker.CheckSubdomainAvailability(c.Request().Context(),
		req.ProjectDomainID, req.Subdomain, req.BasePath, req.ExcludeServiceID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// verifyDomain checks the DNS record of an organization domain. A failed
// check is a normal response, not an error.
func (s *Server) verifyDomain(c echo.Context) error {
	res, err := s.opts.Domains.VerifyDomain(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) retryDomain(c echo.Context) error {
	res, err := s.opts.Domains.RetryVerification(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) domainInstructions(c echo.Context) error {
	res, err := s.opts.Domains.Instructions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
