package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
)

// errorDetail is the envelope on every non-2xx JSON response.
type errorDetail struct {
	Detail string `json:"detail"`
}

// respondError maps a domain error onto its HTTP status and writes the
// detail envelope. Upstream failures are logged at error level, the
// rest at warn; cancellations are expected and logged at info.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status := domain.HTTPStatus(err)

	entry := logger.WithFields(logrus.Fields{
		"status": status,
		"path":   c.FullPath(),
	})
	switch {
	case domain.IsCancelled(err):
		entry.Info(err.Error())
	case domain.IsExternal(err):
		entry.WithError(err).Error("Upstream call failed")
	default:
		entry.Warn(err.Error())
	}

	c.JSON(status, errorDetail{Detail: err.Error()})
}

// respondBindError translates a JSON binding failure into the same
// envelope the validation path uses.
func respondBindError(c *gin.Context, logger *logrus.Logger, err error) {
	logger.WithError(err).WithField("path", c.FullPath()).Warn("Request body rejected")
	c.JSON(http.StatusBadRequest, errorDetail{Detail: "Invalid request body: " + err.Error()})
}
