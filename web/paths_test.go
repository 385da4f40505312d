// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_localPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/profile", "/profile"},
		{"/profile?tab=session#top", "/profile?tab=session#top"},
		{"profile", "/"},
		{"//evil.example.com", "/"},
		{"/\\evil.example.com", "/"},
		{"https://evil.example.com/profile", "/"},
		{"javascript:alert(1)", "/"},
		{"/%zz", "/"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, localPath(tt.in))
		})
	}
}
