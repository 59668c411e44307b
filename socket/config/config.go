/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

// Package config defines the viper-decodable, validator-tagged configuration
// structs for the TCP server, acceptor and connector: listen/dial address,
// buffer bounds, water marks, the keepalive triple and the connector's
// backoff schedule.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	liberr "github.com/sabouaram/libsvx/errors"
	"github.com/sabouaram/libsvx/socket/errs"
)

// Buffer bounds one connection's read and write Circlebuf.
type Buffer struct {
	ReadMin        int `mapstructure:"read_min" validate:"required,gt=0"`
	ReadMax        int `mapstructure:"read_max" validate:"required,gtefield=ReadMin"`
	WriteMin       int `mapstructure:"write_min" validate:"required,gt=0"`
	WriteHighWater int `mapstructure:"write_high_water" validate:"gte=0"`
}

// Keepalive is the TCP_KEEPIDLE/TCP_KEEPINTVL/TCP_KEEPCNT triple.
type Keepalive struct {
	Enable   bool          `mapstructure:"enable"`
	Idle     time.Duration `mapstructure:"idle" validate:"required_if=Enable true,gte=0"`
	Interval time.Duration `mapstructure:"interval" validate:"required_if=Enable true,gte=0"`
	Count    int           `mapstructure:"count" validate:"required_if=Enable true,gte=0"`
}

// Backoff is the connector's reconnect schedule: the delay starts at Initial
// and is multiplied by Multiplier after each failed attempt, up to Max.
type Backoff struct {
	Initial    time.Duration `mapstructure:"initial" validate:"required,gt=0"`
	Max        time.Duration `mapstructure:"max" validate:"required,gtefield=Initial"`
	Multiplier float64       `mapstructure:"multiplier" validate:"required,gte=1"`
}

// Server configures a TCP acceptor and the server that owns its live
// connections.
type Server struct {
	Address   string    `mapstructure:"address" validate:"required,hostname_port"`
	ReusePort bool      `mapstructure:"reuse_port"`
	Backlog   int       `mapstructure:"backlog" validate:"gte=0"`
	IOLoops   int       `mapstructure:"io_loops" validate:"gte=0"`
	Buffer    Buffer    `mapstructure:"buffer" validate:"required"`
	Keepalive Keepalive `mapstructure:"keepalive"`
}

// Client configures a TCP connector and the client that owns its single
// connection.
type Client struct {
	Address   string    `mapstructure:"address" validate:"required,hostname_port"`
	Buffer    Buffer    `mapstructure:"buffer" validate:"required"`
	Keepalive Keepalive `mapstructure:"keepalive"`
	Backoff   Backoff   `mapstructure:"backoff" validate:"required"`
}

// Validate runs struct-tag validation and collapses every failing field into
// one aggregated liberr.Error with one parent per violated constraint.
func Validate(cfg interface{}) liberr.Error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	if e, ok := err.(*validator.InvalidValidationError); ok {
		return errs.Invalid.Error(e)
	}

	out := errs.FormatError.Error(nil)
	for _, e := range err.(validator.ValidationErrors) {
		out.Add(fmt.Errorf("field '%s' fails constraint '%s'", e.Namespace(), e.ActualTag()))
	}

	if out.HasParent() {
		return out
	}
	return nil
}

// Validate validates a Server config.
func (s Server) Validate() liberr.Error { return Validate(s) }

// Validate validates a Client config.
func (c Client) Validate() liberr.Error { return Validate(c) }
