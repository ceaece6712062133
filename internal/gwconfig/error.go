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

package gwconfig

import (
	"fmt"

	libval "github.com/go-playground/validator/v10"
	tlscpr "github.com/ncbi-psg/gateway-core/internal/tlscfg/cipher"
	liberr "github.com/ncbi-psg/gateway-core/internal/xerror"
)

const (
	ErrorValidatorError liberr.CodeError = iota + liberr.MinPkgGwConfig
	ErrorConfigLoad
)

var isCodeError = false

// libValidator is the single validator.Validate instance this package
// runs every Config through. It is shared (rather than a fresh
// validator.New() per call) so the ciphername tag registered below only
// has to happen once.
var libValidator = libval.New()

func IsCodeError() bool {
	return isCodeError
}

func init() {
	isCodeError = liberr.ExistInMapMessage(ErrorValidatorError)
	liberr.RegisterIdFctMessage(ErrorValidatorError, getMessage)

	_ = libValidator.RegisterValidation("ciphername", validateCipherName)
}

// validateCipherName backs the "ciphername" struct tag on
// TLSConfig.Ciphers: it rejects any ssl_ciphers entry internal/tlscfg's
// own cipher.Parse/cipher.Check would silently turn into cipher.Unknown,
// so a typo'd cipher name fails config load instead of quietly running
// with one fewer cipher than the operator asked for.
func validateCipherName(fl libval.FieldLevel) bool {
	name := fl.Field().String()
	c := tlscpr.Parse(name)
	return c.Check()
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case liberr.UNK_ERROR:
		return ""
	case ErrorValidatorError:
		return "invalid config, validation error"
	case ErrorConfigLoad:
		return "configuration could not be loaded"
	}

	return ""
}

// validate runs libval against cfg and folds every field error into a
// single liberr.Error, the same pattern internal/tlscfg.Config.Validate
// uses.
func validate(cfg interface{}) liberr.Error {
	err := ErrorValidatorError.Error(nil)

	if er := libValidator.Struct(cfg); er != nil {
		if e, ok := er.(*libval.InvalidValidationError); ok {
			err.Add(e)
		}
		if ve, ok := er.(libval.ValidationErrors); ok {
			for _, e := range ve {
				//nolint goerr113
				err.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", e.StructNamespace(), e.ActualTag()))
			}
		}
	}

	if err.HasParent() {
		return err
	}

	return nil
}
