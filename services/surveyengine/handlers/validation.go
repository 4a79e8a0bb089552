// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// maxAnswerBytes caps one answer element. Answers are free text typed by a
// person; anything past this is a hostile or broken client.
const maxAnswerBytes = 4096

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := v.RegisterValidation("maxbytes", validateMaxBytes); err != nil {
			panic("failed to register maxbytes validator: " + err.Error())
		}
	}
}

// validateMaxBytes enforces a byte-length limit on string fields. The
// standard "max" tag counts runes, which lets multi-byte payloads through
// at four times the intended size.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}
