package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// All HTTP responses share the {success, ...} envelope.

func ok(c *gin.Context, fields gin.H) {
	c.JSON(http.StatusOK, withSuccess(true, fields))
}

func created(c *gin.Context, fields gin.H) {
	c.JSON(http.StatusCreated, withSuccess(true, fields))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, withSuccess(false, gin.H{"error": msg}))
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, withSuccess(false, gin.H{"error": msg}))
}

func internalError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, withSuccess(false, gin.H{"error": msg}))
}

func withSuccess(success bool, fields gin.H) gin.H {
	out := gin.H{"success": success}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
