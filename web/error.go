// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package web

import "errors"

var ErrInvalidParameter = errors.New("invalid parameter")
