//go:build sonic

package upsdk

import (
	"github.com/bytedance/sonic"
)

// for imroc/req
var jsonMarshal = sonic.Marshal
var jsonUnmarshal = sonic.Unmarshal
