/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package zhealth

import (
	"net/http"
	"strings"

	ginsdk "github.com/gin-gonic/gin"
)

// Register wires /livez, /readyz (and its /healthz, /health, /deep-health
// aliases) and /readyz/:source onto engine.
func (e *Engine) Register(engine *ginsdk.Engine) {
	engine.GET("/livez", e.handleLivez)

	for _, path := range []string{"/readyz", "/healthz", "/health", "/deep-health"} {
		engine.GET(path, e.handleAggregate)
	}

	engine.GET("/readyz/:source", e.handleOne)
}

func (e *Engine) handleLivez(c *ginsdk.Context) {
	if c.Query("verbose") == "yes" {
		c.JSON(http.StatusOK, ginsdk.H{"checks": []Result{}})
		return
	}
	c.Status(http.StatusOK)
}

func (e *Engine) handleAggregate(c *ginsdk.Context) {
	verbose := c.Query("verbose") == "yes"

	var exclude []string
	if raw := c.Query("exclude_checks"); raw != "" {
		exclude = strings.Split(raw, ",")
	}

	status, results := e.RunAll(c.Request.Context(), verbose, exclude)

	if !verbose {
		c.Status(status)
		return
	}
	c.JSON(status, ginsdk.H{"checks": results})
}

func (e *Engine) handleOne(c *ginsdk.Context) {
	source := CheckID(c.Param("source"))

	result, ok := e.RunOne(c.Request.Context(), source)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	if c.Query("verbose") == "yes" {
		c.JSON(result.HTTPStatus, ginsdk.H{"checks": []Result{result}})
		return
	}
	c.Status(result.HTTPStatus)
}
