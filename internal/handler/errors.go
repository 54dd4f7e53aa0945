package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geolens-backend-go/internal/cache"
	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/repository"
	"github.com/jengzang/geolens-backend-go/internal/service"
	"github.com/jengzang/geolens-backend-go/pkg/response"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var validation *models.ValidationError
	var computation *cache.ComputationError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, service.ErrUnsupportedExtension),
		errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, service.ErrTooManyImages):
		return http.StatusBadRequest
	case errors.Is(err, cache.ErrCacheMiss), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &computation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, message string, err error) {
	response.Error(c, statusFor(err), message, err)
}
